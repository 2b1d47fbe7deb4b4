package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/otarescue-io/otarescue/internal/agent"
	"github.com/otarescue-io/otarescue/pkg/app"
	"github.com/otarescue-io/otarescue/pkg/log"
	"github.com/otarescue-io/otarescue/pkg/options"
)

// AgentOptions aggregates every configurable surface of the rescue agent.
type AgentOptions struct {
	Flash *options.FlashOptions `json:"flash" mapstructure:"flash"`
	Http  *options.HttpOptions  `json:"http" mapstructure:"http"`
	Mqtt  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	S3    *options.S3Options    `json:"s3" mapstructure:"s3"`
	Log   *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.CliOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		Flash: options.NewFlashOptions(),
		Http:  options.NewHttpOptions(),
		Mqtt:  options.NewMqttOptions(),
		S3:    options.NewS3Options(),
		Log:   log.NewOptions(),
	}
}

func (o *AgentOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	o.Flash.AddFlags(fs)
	o.Http.AddFlags(fs)
	o.Mqtt.AddFlags(fs)
	o.S3.AddFlags(fs)
	o.Log.AddFlags(fs)
}

// Complete fills derived defaults: the MQTT client identity follows the
// device identity unless set explicitly.
func (o *AgentOptions) Complete() error {
	if o.Mqtt.Enabled && o.Mqtt.ClientID == "" {
		o.Mqtt.ClientID = fmt.Sprintf("otarescue-agent-%s", o.Flash.DeviceID)
	}
	return nil
}

func (o *AgentOptions) Validate() []error {
	var errs []error
	errs = append(errs, o.Flash.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errs
}

// Config assembles the agent configuration from the parsed options.
func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		FlashOptions: o.Flash,
		HttpOptions:  o.Http,
		MqttOptions:  o.Mqtt,
		S3Options:    o.S3,
	}, nil
}
