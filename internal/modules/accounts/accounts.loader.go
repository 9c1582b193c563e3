// Package accounts reads the per-account configuration files.
package accounts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/validator"
)

var extensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
}

// Entry is the result of loading one file: either an account or the
// reason it could not be used.
type Entry struct {
	ID      string
	Source  string
	Account *domain.Account
	Err     error
}

func (e Entry) Valid() bool {
	return e.Err == nil && e.Account != nil
}

type channelEntry struct {
	Type    string                 `mapstructure:"type"`
	Enabled bool                   `mapstructure:"enabled"`
	Rest    map[string]interface{} `mapstructure:",remain"`
}

type Loader struct {
	dir       string
	validator *validator.Validator
	logger    *observability.Logger
}

func NewLoader(dir string, logger *observability.Logger) *Loader {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Loader{
		dir:       dir,
		validator: validator.New(),
		logger:    logger,
	}
}

// Load reads every account file in the directory in name order. Only an
// unreadable directory is returned as an error; broken files become
// entries carrying their ConfigError.
func (l *Loader) Load() ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfig, "failed to read accounts directory "+l.dir)
	}

	var paths []string
	for _, e := range dirEntries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(l.dir, e.Name()))
	}
	sort.Strings(paths)

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, l.LoadFile(p))
	}
	return entries, nil
}

// LoadFile reads and validates one account file. The account ID is the
// file name without extension.
func (l *Loader) LoadFile(path string) Entry {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	entry := Entry{ID: id, Source: path}

	account, err := l.decode(path)
	if err == nil {
		account.ID = id
		account.Source = path
		err = Validate(l.validator, account)
	}
	if err != nil {
		l.logger.Warn(context.Background(), "Invalid account file",
			l.logger.Field("account_id", id),
			l.logger.Field("file", path),
			l.logger.Field("error", err.Error()),
		)
		entry.Err = err
		return entry
	}

	entry.Account = account
	return entry
}

func (l *Loader) decode(path string) (*domain.Account, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfig, "unreadable account file")
	}

	settings := v.AllSettings()
	if sub, ok := settings["config"].(map[string]interface{}); ok {
		settings = sub
	}

	account := &domain.Account{}
	if err := decodeInto(settings, account); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfig, "malformed account file")
	}

	channels, err := decodeChannels(settings["pushnotifications"])
	if err != nil {
		return nil, err
	}
	account.Channels = channels
	return account, nil
}

func decodeChannels(raw interface{}) ([]domain.ChannelSettings, error) {
	if raw == nil {
		return nil, nil
	}

	var entries []channelEntry
	if err := decodeInto(raw, &entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfig, "malformed pushNotifications")
	}

	var channels []domain.ChannelSettings
	for i, e := range entries {
		if !e.Enabled {
			continue
		}
		settings, ok := domain.NewChannelSettings(domain.ChannelType(e.Type))
		if !ok {
			return nil, errors.New(errors.ErrCodeConfig, fmt.Sprintf("pushNotifications[%d]: unsupported channel type %q", i, e.Type))
		}
		if err := decodeInto(e.Rest, settings); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfig, fmt.Sprintf("pushNotifications[%d]: malformed %s settings", i, e.Type))
		}
		channels = append(channels, settings)
	}
	return channels, nil
}

func decodeInto(input, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Validate checks field constraints and the cross-field rules of an
// account.
func Validate(v *validator.Validator, a *domain.Account) error {
	if err := v.Validate(a); err != nil {
		return errors.WithDetails(errors.ErrCodeConfig, validator.Summary(err), validator.TranslateValidationErrors(err))
	}

	for _, ch := range a.Channels {
		if err := v.Validate(ch); err != nil {
			return errors.WithDetails(errors.ErrCodeConfig,
				fmt.Sprintf("%s channel: %s", ch.ChannelType(), validator.Summary(err)),
				validator.TranslateValidationErrors(err))
		}
	}

	var problems []string
	if c := a.ClockIn; c.Enabled {
		if strings.TrimSpace(c.Location.Address) == "" {
			problems = append(problems, "clockIn.location.address: This field is required")
		}
		if c.EffectiveMode() == domain.ModeCustom && len(c.CustomDays) == 0 {
			problems = append(problems, "clockIn.customDays: custom mode needs at least one weekday")
		}
	}

	for _, kind := range domain.ReportKinds {
		r := a.Reports.For(kind)
		if !r.Enabled {
			continue
		}
		if !a.AI.Enabled && strings.TrimSpace(r.Content) == "" {
			problems = append(problems, fmt.Sprintf("reportSettings.%s.content: required when AI generation is off", kind.ReportType()))
		}
		switch kind {
		case domain.KindWeeklyReport:
			if d := r.Day(); d < 1 || d > 7 {
				problems = append(problems, "reportSettings.weekly.submitDay: must be an ISO weekday 1-7")
			}
		case domain.KindMonthlyReport:
			if d := r.Day(); d < 1 || d > 31 {
				problems = append(problems, "reportSettings.monthly.submitDay: must be a day of month 1-31")
			}
		}
	}

	if len(problems) > 0 {
		return errors.WithDetails(errors.ErrCodeConfig, strings.Join(problems, "; "), problems)
	}
	return nil
}
