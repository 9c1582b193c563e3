// Package notify renders run summaries and delivers them to the push
// channels configured on each account.
package notify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/breaker"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

// Delivery is the result of one channel send.
type Delivery struct {
	Channel domain.ChannelType
	Err     error
}

// Dispatcher fans a run summary out to an account's channels. Delivery
// failures are logged and never change the run result.
type Dispatcher struct {
	timeout    time.Duration
	breakerCfg config.CBConfig
	senders    map[domain.ChannelType]Sender
	metrics    *observability.Metrics
	logger     *observability.Logger

	mu       sync.Mutex
	breakers map[domain.ChannelType]*gobreaker.CircuitBreaker
}

func NewDispatcher(cfg *config.NotifyConfig, endpoints Endpoints, metrics *observability.Metrics, logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	hs := httpSender{client: client}
	d := &Dispatcher{
		timeout:    timeout,
		breakerCfg: cfg.Breaker,
		senders: map[domain.ChannelType]Sender{
			domain.ChannelServer:   serverChanSender{httpSender: hs, base: strings.TrimSuffix(endpoints.ServerChan, "/")},
			domain.ChannelPushPlus: pushPlusSender{httpSender: hs, endpoint: endpoints.PushPlus},
			domain.ChannelAnPush:   anPushSender{httpSender: hs, base: strings.TrimSuffix(endpoints.AnPush, "/")},
			domain.ChannelWxPusher: wxPusherSender{httpSender: hs, endpoint: endpoints.WxPusher},
			domain.ChannelSMTP:     smtpSender{dialTimeout: timeout},
		},
		metrics:  metrics,
		logger:   logger,
		breakers: make(map[domain.ChannelType]*gobreaker.CircuitBreaker),
	}

	if discord, err := newDiscordSender(client); err == nil {
		d.senders[domain.ChannelDiscord] = discord
	} else {
		logger.Warn(context.Background(), "Discord channel unavailable", logger.Field("error", err.Error()))
	}
	return d
}

// WithSender replaces the sender of one channel type.
func (d *Dispatcher) WithSender(t domain.ChannelType, s Sender) *Dispatcher {
	d.senders[t] = s
	return d
}

func (d *Dispatcher) breakerFor(t domain.ChannelType) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[t]
	if !ok {
		cb = breaker.New("notify_"+strings.ToLower(string(t)), d.breakerCfg, d.metrics, d.logger)
		d.breakers[t] = cb
	}
	return cb
}

// Notify delivers the summary of result to every channel of account, one
// after another, each bounded by the configured timeout.
func (d *Dispatcher) Notify(ctx context.Context, account *domain.Account, result domain.RunResult) []Delivery {
	if len(account.Channels) == 0 {
		return nil
	}

	msg := Render(result)
	deliveries := make([]Delivery, 0, len(account.Channels))
	for _, ch := range account.Channels {
		err := d.send(ctx, ch, msg)
		deliveries = append(deliveries, Delivery{Channel: ch.ChannelType(), Err: err})
	}
	return deliveries
}

func (d *Dispatcher) send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	t := ch.ChannelType()
	sender, ok := d.senders[t]
	if !ok {
		err := errors.New(errors.ErrCodeConfig, "no sender for channel "+string(t))
		d.record(ctx, t, "unsupported", err, 0)
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	// A provider refusing a message is alive, so rejections do not count
	// against its breaker.
	res, err := d.breakerFor(t).Execute(func() (interface{}, error) {
		err := sender.Send(sctx, ch, msg)
		if errors.CodeOf(err) == errors.ErrCodeRejected {
			return err, nil
		}
		return nil, err
	})
	if rejected, ok := res.(error); ok && err == nil {
		err = rejected
	}

	result := "success"
	switch {
	case breaker.Open(err):
		result = "breaker_open"
		err = errors.Wrap(err, errors.ErrCodeTransient, "channel "+string(t)+" suspended")
	case err != nil:
		result = "failed"
	}
	d.record(ctx, t, result, err, time.Since(start))
	return err
}

func (d *Dispatcher) record(ctx context.Context, t domain.ChannelType, result string, err error, dur time.Duration) {
	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues(string(t), result).Inc()
		d.metrics.RecordExternalCall("notify", string(t), dur, err)
	}
	if err != nil {
		d.logger.Warn(ctx, "Notification not delivered",
			d.logger.Field("channel", string(t)),
			d.logger.Field("result", result),
			d.logger.Field("error", err.Error()),
		)
		return
	}
	d.logger.Info(ctx, "Notification delivered", d.logger.Field("channel", string(t)))
}
