package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// Variable kinds. They mirror the entity platforms of the home automation
// integration the configuration format comes from.
const (
	KindBinarySensor = "binary_sensor"
	KindNumber       = "number"
	KindSelect       = "select"
	KindSensor       = "sensor"
	KindSwitch       = "switch"
)

// ErrDuplicateVariable is returned when two variables share an address
// and type.
var ErrDuplicateVariable = errors.New("duplicate variable")

// Duration is a time.Duration that decodes from a number of seconds or a
// duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root of a configuration file.
type Config struct {
	Controller Controller `yaml:"controller"`
	Options    Options    `yaml:"options"`
	Variables  []Variable `yaml:"variables" validate:"dive"`
}

// Controller identifies the PLC.
type Controller struct {
	Host     string `yaml:"host" validate:"required,hostname|ip"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	AMSNetID string `yaml:"ams_net_id" validate:"required,amsnetid"`
}

// Options tune the session.
type Options struct {
	OperationTimeout      Duration `yaml:"operation_timeout" validate:"gt=0"`
	ConnectTimeout        Duration `yaml:"connect_timeout" validate:"gt=0"`
	HealthCheckInterval   Duration `yaml:"health_check_interval" validate:"gte=0"`
	MaxFailures           int      `yaml:"max_failures" validate:"min=1"`
	MaxConsecutiveTimeout int      `yaml:"max_consecutive_timeouts" validate:"min=1"`
	ReconnectInitialDelay Duration `yaml:"reconnect_initial_delay" validate:"gt=0"`
	ReconnectMaxDelay     Duration `yaml:"reconnect_max_delay" validate:"gtefield=ReconnectInitialDelay"`
	UseNotifications      bool     `yaml:"use_notifications"`
	DispatchQueueSize     int      `yaml:"dispatch_queue_size" validate:"min=1"`
}

// Variable is one value kept in sync with the controller.
type Variable struct {
	Name             string   `yaml:"name" validate:"required"`
	Kind             string   `yaml:"type" validate:"required,oneof=binary_sensor number select sensor switch"`
	Address          string   `yaml:"plc_address" validate:"required"`
	PLCType          string   `yaml:"plc_type" validate:"omitempty,plctype"`
	ScanInterval     Duration `yaml:"scan_interval" validate:"gte=0"`
	CycleTime        Duration `yaml:"cycle_time" validate:"gte=0"`
	UseNotifications *bool    `yaml:"use_notifications"`
	Factor           *float64 `yaml:"factor" validate:"omitempty,ne=0"`
	Offset           float64  `yaml:"offset"`
	Precision        *int     `yaml:"precision" validate:"omitempty,min=0,max=10"`
	Unit             string   `yaml:"unit_of_measurement"`
	Options          []string `yaml:"options"`
	Min              *float64 `yaml:"min_value"`
	Max              *float64 `yaml:"max_value"`
}

// Default returns a configuration with every option at its default and no
// controller or variables.
func Default() *Config {
	cc := connection.DefaultConfig()
	return &Config{
		Controller: Controller{Port: transport.DefaultPort},
		Options: Options{
			OperationTimeout:      Duration(hub.DefaultOperationTimeout),
			ConnectTimeout:        Duration(cc.ConnectTimeout),
			HealthCheckInterval:   Duration(cc.HealthCheckInterval),
			MaxFailures:           cc.MaxFailures,
			MaxConsecutiveTimeout: cc.MaxConsecutiveTimeouts,
			ReconnectInitialDelay: Duration(cc.Backoff.Initial),
			ReconnectMaxDelay:     Duration(cc.Backoff.Max),
			UseNotifications:      true,
			DispatchQueueSize:     subscription.DefaultQueueSize,
		},
	}
}

// Parse decodes and validates a configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads, decodes, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and rejects duplicate variables.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[subscription.Key]string, len(c.Variables))
	for _, v := range c.Variables {
		key := v.Key()
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q and %q both use %s", ErrDuplicateVariable, prev, v.Name, key)
		}
		seen[key] = v.Name
	}
	return nil
}

// Endpoint returns the controller endpoint.
func (c *Config) Endpoint() transport.Endpoint {
	return transport.Endpoint{
		Host:  c.Controller.Host,
		Port:  c.Controller.Port,
		NetID: c.Controller.AMSNetID,
	}
}

// HubConfig builds a hub configuration for t. Observers, stores, and
// loggers are left for the caller.
func (c *Config) HubConfig(t transport.Transport) hub.Config {
	hc := hub.DefaultConfig()
	hc.Transport = t
	hc.Endpoint = c.Endpoint()
	hc.OperationTimeout = c.Options.OperationTimeout.Std()
	hc.ConnectTimeout = c.Options.ConnectTimeout.Std()
	hc.HealthCheckInterval = c.Options.HealthCheckInterval.Std()
	hc.MaxFailures = c.Options.MaxFailures
	hc.MaxConsecutiveTimeouts = c.Options.MaxConsecutiveTimeout
	hc.Backoff.Initial = c.Options.ReconnectInitialDelay.Std()
	hc.Backoff.Max = c.Options.ReconnectMaxDelay.Std()
	hc.Breaker.FailureThreshold = c.Options.MaxFailures
	hc.Breaker.RecoveryTimeout = c.Options.ReconnectMaxDelay.Std()
	hc.QueueSize = c.Options.DispatchQueueSize
	return hc
}

// DataType returns the controller type of the variable. Without an
// explicit plc_type, switches and binary sensors are BOOL, selects are
// INT, and everything else is REAL.
func (v Variable) DataType() codec.DataType {
	if v.PLCType != "" {
		if t, err := codec.ParseDataType(v.PLCType); err == nil {
			return t
		}
	}
	switch v.Kind {
	case KindBinarySensor, KindSwitch:
		return codec.TypeBool
	case KindSelect:
		return codec.TypeInt
	default:
		return codec.TypeReal
	}
}

// Key returns the address and type pair that identifies the variable.
func (v Variable) Key() subscription.Key {
	return subscription.Key{Address: v.Address, Type: v.DataType()}
}

// Scaling returns the value transform, or nil if the variable has none.
func (v Variable) Scaling() *codec.Scaling {
	if v.Factor == nil && v.Offset == 0 && v.Precision == nil {
		return nil
	}
	s := codec.Scaling{Factor: 1, Offset: v.Offset}
	if v.Factor != nil {
		s.Factor = *v.Factor
	}
	if v.Precision != nil {
		s.Precision = codec.Places(*v.Precision)
	}
	return &s
}

// Spec returns the subscription for the variable. Notifications default
// to the global option.
func (v Variable) Spec(opts Options, cb subscription.Callback) subscription.Spec {
	useNotifications := opts.UseNotifications
	if v.UseNotifications != nil {
		useNotifications = *v.UseNotifications
	}
	return subscription.Spec{
		Address:          v.Address,
		Type:             v.DataType(),
		PollInterval:     v.ScanInterval.Std(),
		CycleTime:        v.CycleTime.Std(),
		UseNotifications: useNotifications,
		Scaling:          v.Scaling(),
		Callback:         cb,
	}
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	// File is the path of the configuration file, if any.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
