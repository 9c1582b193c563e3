package domain

type ChannelType string

const (
	ChannelServer   ChannelType = "Server"
	ChannelPushPlus ChannelType = "PushPlus"
	ChannelAnPush   ChannelType = "AnPush"
	ChannelWxPusher ChannelType = "WxPusher"
	ChannelSMTP     ChannelType = "SMTP"
	ChannelDiscord  ChannelType = "Discord"
)

// ChannelSettings is one of the typed channel variants below.
type ChannelSettings interface {
	ChannelType() ChannelType
}

type ServerChannel struct {
	SendKey string `mapstructure:"sendKey" validate:"required"`
}

type PushPlusChannel struct {
	Token string `mapstructure:"token" validate:"required"`
}

type AnPushChannel struct {
	Token   string `mapstructure:"token" validate:"required"`
	Channel string `mapstructure:"channel" validate:"required"`
}

type WxPusherChannel struct {
	SPT string `mapstructure:"spt" validate:"required"`
}

type SMTPChannel struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0,lte=65535"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to" validate:"required,email"`
}

type DiscordChannel struct {
	WebhookURL string `mapstructure:"webhookUrl" validate:"required,url"`
}

func (ServerChannel) ChannelType() ChannelType   { return ChannelServer }
func (PushPlusChannel) ChannelType() ChannelType { return ChannelPushPlus }
func (AnPushChannel) ChannelType() ChannelType   { return ChannelAnPush }
func (WxPusherChannel) ChannelType() ChannelType { return ChannelWxPusher }
func (SMTPChannel) ChannelType() ChannelType     { return ChannelSMTP }
func (DiscordChannel) ChannelType() ChannelType  { return ChannelDiscord }

// NewChannelSettings returns an empty variant for t, or false when the type
// is unknown.
func NewChannelSettings(t ChannelType) (ChannelSettings, bool) {
	switch t {
	case ChannelServer:
		return &ServerChannel{}, true
	case ChannelPushPlus:
		return &PushPlusChannel{}, true
	case ChannelAnPush:
		return &AnPushChannel{}, true
	case ChannelWxPusher:
		return &WxPusherChannel{}, true
	case ChannelSMTP:
		return &SMTPChannel{}, true
	case ChannelDiscord:
		return &DiscordChannel{}, true
	default:
		return nil, false
	}
}
