package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

// Sender delivers one message over a channel variant.
type Sender interface {
	Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error
}

// Endpoints are the push provider base URLs.
type Endpoints struct {
	ServerChan string
	PushPlus   string
	AnPush     string
	WxPusher   string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		ServerChan: "https://sctapi.ftqq.com",
		PushPlus:   "https://www.pushplus.plus/send",
		AnPush:     "https://api.anpush.com/push",
		WxPusher:   "https://wxpusher.zjiecode.com/api/send/message/simple-push",
	}
}

type providerReply struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
	// Server酱 reports its message under "message".
	Message string `json:"message"`
}

func (r providerReply) text() string {
	if r.Msg != "" {
		return r.Msg
	}
	return r.Message
}

type httpSender struct {
	client *http.Client
}

func (h httpSender) do(ctx context.Context, req *http.Request, okCode string) error {
	resp, err := h.client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrCodeCanceled, "notification interrupted")
		}
		return errors.Wrap(err, errors.ErrCodeTransient, "notification request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransient, "failed to read notification response")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.New(errors.ErrCodeTransient, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return errors.New(errors.ErrCodeRejected, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var reply providerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransient, "malformed notification response")
	}
	if reply.Code.String() != okCode {
		return errors.New(errors.ErrCodeRejected, fmt.Sprintf("provider code %s: %s", reply.Code, reply.text()))
	}
	return nil
}

func (h httpSender) postForm(ctx context.Context, endpoint string, form url.Values, okCode string) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfig, "invalid notification endpoint")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(ctx, req, okCode)
}

func (h httpSender) postJSON(ctx context.Context, endpoint string, payload interface{}, okCode string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode notification")
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfig, "invalid notification endpoint")
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(ctx, req, okCode)
}

func mismatch(want domain.ChannelType, got domain.ChannelSettings) error {
	return errors.New(errors.ErrCodeInternal, fmt.Sprintf("%s sender got %s settings", want, got.ChannelType()))
}

type serverChanSender struct {
	httpSender
	base string
}

func (s serverChanSender) Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	c, ok := ch.(*domain.ServerChannel)
	if !ok {
		return mismatch(domain.ChannelServer, ch)
	}
	form := url.Values{"title": {msg.Title}, "desp": {msg.Markdown}}
	return s.postForm(ctx, fmt.Sprintf("%s/%s.send", s.base, url.PathEscape(c.SendKey)), form, "0")
}

type pushPlusSender struct {
	httpSender
	endpoint string
}

func (s pushPlusSender) Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	c, ok := ch.(*domain.PushPlusChannel)
	if !ok {
		return mismatch(domain.ChannelPushPlus, ch)
	}
	return s.postJSON(ctx, s.endpoint, map[string]string{
		"token":    c.Token,
		"title":    msg.Title,
		"content":  msg.Markdown,
		"template": "markdown",
	}, "200")
}

type anPushSender struct {
	httpSender
	base string
}

func (s anPushSender) Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	c, ok := ch.(*domain.AnPushChannel)
	if !ok {
		return mismatch(domain.ChannelAnPush, ch)
	}
	form := url.Values{"title": {msg.Title}, "content": {msg.Markdown}, "channel": {c.Channel}}
	return s.postForm(ctx, s.base+"/"+url.PathEscape(c.Token), form, "200")
}

type wxPusherSender struct {
	httpSender
	endpoint string
}

func (s wxPusherSender) Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	c, ok := ch.(*domain.WxPusherChannel)
	if !ok {
		return mismatch(domain.ChannelWxPusher, ch)
	}
	return s.postJSON(ctx, s.endpoint, map[string]interface{}{
		"content":     msg.HTML,
		"summary":     msg.Title,
		"contentType": 2,
		"spt":         c.SPT,
	}, "1000")
}

// smtpSender delivers over implicit TLS, the way port 465 relays expect.
type smtpSender struct {
	dialTimeout time.Duration
}

func (s smtpSender) Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	c, ok := ch.(*domain.SMTPChannel)
	if !ok {
		return mismatch(domain.ChannelSMTP, ch)
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.dialTimeout},
		Config:    &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransient, "smtp connect failed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, errors.ErrCodeTransient, "smtp handshake failed")
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", c.Username, c.Password, c.Host)); err != nil {
		return errors.Wrap(err, errors.ErrCodeRejected, "smtp authentication failed")
	}
	if err := client.Mail(c.Username); err != nil {
		return errors.Wrap(err, errors.ErrCodeRejected, "smtp sender refused")
	}
	if err := client.Rcpt(c.To); err != nil {
		return errors.Wrap(err, errors.ErrCodeRejected, "smtp recipient refused")
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransient, "smtp data failed")
	}
	if _, err := w.Write(BuildMail(c, msg, time.Now())); err != nil {
		w.Close()
		return errors.Wrap(err, errors.ErrCodeTransient, "smtp write failed")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransient, "smtp write failed")
	}
	return client.Quit()
}

// BuildMail renders the HTML message as a MIME mail.
func BuildMail(c *domain.SMTPChannel, msg Message, now time.Time) []byte {
	from := c.Username
	if c.From != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", c.From), c.Username)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", c.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.HTML))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	return b.Bytes()
}

const (
	embedColorSuccess = 0x2ECC71
	embedColorFailure = 0xE74C3C
	embedDescLimit    = 4096
)

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type discordSender struct {
	executor webhookExecutor
}

func newDiscordSender(client *http.Client) (*discordSender, error) {
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	s.Client = client
	return &discordSender{executor: s}, nil
}

func (s *discordSender) Send(ctx context.Context, ch domain.ChannelSettings, msg Message) error {
	c, ok := ch.(*domain.DiscordChannel)
	if !ok {
		return mismatch(domain.ChannelDiscord, ch)
	}
	id, token, err := ParseWebhook(c.WebhookURL)
	if err != nil {
		return err
	}

	color := embedColorSuccess
	if strings.HasPrefix(msg.Title, "📊") {
		color = embedColorFailure
	}
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: truncate(msg.Markdown, embedDescLimit),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: "autopunch"},
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	_, err = s.executor.WebhookExecute(id, token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if stderrors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode < 500 && restErr.Response.StatusCode != http.StatusTooManyRequests {
			return errors.Wrap(err, errors.ErrCodeRejected, "discord rejected the webhook")
		}
		return errors.Wrap(err, errors.ErrCodeTransient, "discord webhook failed")
	}
	return nil
}

// ParseWebhook extracts the id and token of a .../webhooks/{id}/{token} URL.
func ParseWebhook(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeConfig, "invalid discord webhook url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New(errors.ErrCodeConfig, "discord webhook url has no id and token")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit-1]) + "…"
}
