// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/ice"
	"github.com/livekit/streamlink/pkg/qos"
	"github.com/livekit/streamlink/pkg/session"
	"github.com/livekit/streamlink/pkg/turn"
)

const (
	generatedCLIFlagUsage = "generated"
	envVarPrefix          = "STREAMLINK"
)

var durationType = reflect.TypeOf(time.Duration(0))

var (
	ErrCredentialsFileIncorrectPermission = errors.New("credentials file others permissions must be set to 0")
	ErrInvalidCredentials                 = errors.New("credentials file must contain username and password")
)

type Config struct {
	Development bool   `yaml:"development,omitempty"`
	NodeID      string `yaml:"node_id,omitempty"`
	// gaming mode selecting the qos preset
	Mode            string               `yaml:"mode,omitempty"`
	PrometheusPort  uint32               `yaml:"prometheus_port,omitempty"`
	ICE             ICEConfig            `yaml:"ice,omitempty"`
	TURN            turn.ClientConfig    `yaml:"turn,omitempty"`
	CredentialsFile string               `yaml:"credentials_file,omitempty"`
	TURNServer      TURNServerConfig     `yaml:"turn_server,omitempty"`
	QoS             qos.ControllerConfig `yaml:"qos,omitempty"`
	Session         session.Config       `yaml:"session,omitempty"`
	Logging         LoggingConfig        `yaml:"logging,omitempty"`
	LogLevel        string               `yaml:"log_level,omitempty"`
}

type ICEConfig struct {
	Gatherer ice.GathererConfig `yaml:"gatherer,omitempty"`
	Checker  ice.CheckerConfig  `yaml:"checker,omitempty"`
}

// TURNServerConfig configures the development relay started by the CLI.
type TURNServerConfig struct {
	BindAddress string `yaml:"bind_address,omitempty"`
	Realm       string `yaml:"realm,omitempty"`
	// address advertised in allocations, first local address when empty
	RelayIP             string `yaml:"relay_ip,omitempty"`
	RelayPortRangeStart uint16 `yaml:"relay_range_start,omitempty"`
	RelayPortRangeEnd   uint16 `yaml:"relay_range_end,omitempty"`
	Username            string `yaml:"username,omitempty"`
	Password            string `yaml:"password,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	PionLevel     string `yaml:"pion_level,omitempty"`
}

type credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var DefaultConfig = Config{
	Mode: qos.ModeBalanced.String(),
	ICE: ICEConfig{
		Gatherer: ice.DefaultGathererConfig,
		Checker:  ice.DefaultCheckerConfig,
	},
	TURN: turn.DefaultClientConfig,
	TURNServer: TURNServerConfig{
		BindAddress:         "0.0.0.0:3478",
		Realm:               "streamlink",
		RelayPortRangeStart: 30000,
		RelayPortRangeEnd:   40000,
	},
	QoS:     qos.DefaultControllerConfig,
	Session: session.DefaultConfig,
	Logging: LoggingConfig{
		PionLevel: "error",
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if _, err := qos.ParseMode(conf.Mode); err != nil {
		return nil, err
	}

	// expand env vars in filenames
	file, err := homedir.Expand(os.ExpandEnv(conf.CredentialsFile))
	if err != nil {
		return nil, err
	}
	conf.CredentialsFile = file

	if conf.TURNServer.RelayIP == "" {
		if addresses, err := GetLocalIPAddresses(false); err == nil {
			conf.TURNServer.RelayIP = addresses[0]
		}
	}

	if conf.LogLevel != "" {
		conf.Logging.Level = conf.LogLevel
	}
	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}
	if conf.Logging.PionLevel != "" {
		if conf.Logging.ComponentLevels == nil {
			conf.Logging.ComponentLevels = map[string]string{}
		}
		conf.Logging.ComponentLevels["pion"] = conf.Logging.PionLevel
	}

	return &conf, nil
}

// GetMode returns the configured gaming mode. NewConfig has already validated it.
func (conf *Config) GetMode() qos.Mode {
	mode, _ := qos.ParseMode(conf.Mode)
	return mode
}

func (conf *Config) IsRelayEnabled() bool {
	return conf.TURN.Server != ""
}

// LoadCredentials reads the TURN username and password from the credentials
// file when one is configured.
func (conf *Config) LoadCredentials() error {
	if conf.CredentialsFile == "" {
		return nil
	}

	var otherFilter os.FileMode = 0o007
	if st, err := os.Stat(conf.CredentialsFile); err != nil {
		return err
	} else if st.Mode().Perm()&otherFilter != 0o000 {
		return ErrCredentialsFileIncorrectPermission
	}
	f, err := os.Open(conf.CredentialsFile)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	var creds credentials
	if err := yaml.NewDecoder(f).Decode(&creds); err != nil {
		return err
	}
	if creds.Username == "" || creds.Password == "" {
		return ErrInvalidCredentials
	}
	conf.TURN.Username = creds.Username
	conf.TURN.Password = creds.Password
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := fmt.Sprintf("%s_%s", envVarPrefix, strings.ToUpper(strings.Replace(name, ".", "_", -1)))

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:   name,
				Usage:  generatedCLIFlagUsage,
				Hidden: hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			if value.Type() == durationType {
				flag = &cli.DurationFlag{
					Name:    name,
					EnvVars: []string{envVar},
					Usage:   generatedCLIFlagUsage,
					Hidden:  hidden,
				}
				break
			}
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice, reflect.Map:
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Int64:
			if configValue.Type() == durationType {
				configValue.SetInt(int64(c.Duration(flagName)))
			} else {
				configValue.SetInt(c.Int64(flagName))
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("stun") {
		conf.ICE.Gatherer.STUNServers = c.StringSlice("stun")
	}
	if c.IsSet("turn") {
		conf.TURN.Server = c.String("turn")
	}
	if c.IsSet("credentials-file") {
		conf.CredentialsFile = c.String("credentials-file")
	}
	return nil
}

// Note: only pass in logr.Logger with default depth
func SetLogger(l logger.Logger) {
	logger.SetLogger(l, "streamlink")
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(&config.Config, "streamlink")
}
