package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/jursonmo/routeref"
)

const DefaultStateFile = "/var/lib/routeref/state.json"

// Config is the on-disk configuration of the routeref command.
type Config struct {
	StateFile string   `toml:"state_file"`
	Namespace string   `toml:"namespace"`
	Table     int      `toml:"table" validate:"gte=0"`
	Metric    int      `toml:"metric" validate:"gte=0"`
	Protocol  int      `toml:"protocol" validate:"gte=0,lte=255"`
	Owners    []*Owner `toml:"owner" validate:"unique=Name,dive,required"`
}

// Owner is a named set of routes, typically one per tunnel.
type Owner struct {
	Name   string   `toml:"name" validate:"required"`
	Routes []*Route `toml:"route" validate:"dive,required"`
}

type Route struct {
	Interface string `toml:"interface" validate:"required,max=15"`
	Network   string `toml:"network" validate:"required,network"`
	Gateway   string `toml:"gateway" validate:"omitempty,ip"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("network", validateNetwork); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// "default" or a CIDR.
func validateNetwork(fl validator.FieldLevel) bool {
	value := strings.ToLower(strings.TrimSpace(fl.Field().String()))
	if value == "default" {
		return true
	}
	_, err := netip.ParsePrefix(value)
	return err == nil
}

// Load reads, decodes and validates the configuration file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(content)
}

// Parse decodes and validates a TOML configuration.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(content, &cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("failed to parse config at line %d, column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that every route parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, o := range c.Owners {
		if _, err := o.Entries(); err != nil {
			return fmt.Errorf("invalid config: owner %q: %w", o.Name, err)
		}
	}
	return nil
}

// Entries converts the owner's routes.
func (o *Owner) Entries() ([]routeref.Entry, error) {
	out := make([]routeref.Entry, 0, len(o.Routes))
	for i, r := range o.Routes {
		e, err := routeref.ParseEntry(r.Interface, r.Network, r.Gateway)
		if err != nil {
			return nil, fmt.Errorf("route[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// NetlinkOptions returns the backend options described by c.
func (c *Config) NetlinkOptions() []routeref.NetlinkOption {
	var opts []routeref.NetlinkOption
	if c.Namespace != "" {
		opts = append(opts, routeref.WithNamespace(c.Namespace))
	}
	if c.Table != 0 {
		opts = append(opts, routeref.WithTable(c.Table))
	}
	if c.Metric != 0 {
		opts = append(opts, routeref.WithMetric(c.Metric))
	}
	if c.Protocol != 0 {
		opts = append(opts, routeref.WithProtocol(c.Protocol))
	}
	return opts
}
