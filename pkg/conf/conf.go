package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ini/ini"
	"github.com/go-playground/validator/v10"
	"github.com/quilldav/quill/pkg/logging"
	"github.com/quilldav/quill/pkg/util"
)

const envConfOverrideKey = "QL_CONF_"

type ConfigProvider interface {
	System() *System
	DAV() *DAV
	RangePolicy() *RangePolicy
}

// NewIniConfigProvider initializes a new Ini config file provider. A default
// config file will be created if the given path does not exist.
func NewIniConfigProvider(configPath string, l logging.Logger) (ConfigProvider, error) {
	if configPath == "" || !util.Exists(configPath) {
		l.Info("Config file %q not found, creating a new one.", configPath)
		f, err := util.CreatNestedFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}

		_, err = f.WriteString(defaultConf)
		if err != nil {
			return nil, fmt.Errorf("failed to write config file: %w", err)
		}

		f.Close()
	}

	cfg, err := ini.Load(configPath, []byte(getOverrideConfFromEnv(l)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", configPath, err)
	}

	provider := &iniConfigProvider{
		system:      *SystemConfig,
		dav:         *DAVConfig,
		rangePolicy: *RangePolicyConfig,
	}

	sections := map[string]interface{}{
		"System":      &provider.system,
		"DAV":         &provider.dav,
		"RangePolicy": &provider.rangePolicy,
	}
	for sectionName, sectionStruct := range sections {
		err = mapSection(cfg, sectionName, sectionStruct)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config section %q: %w", sectionName, err)
		}
	}

	return provider, nil
}

type iniConfigProvider struct {
	system      System
	dav         DAV
	rangePolicy RangePolicy
}

func (i *iniConfigProvider) System() *System {
	return &i.system
}

func (i *iniConfigProvider) DAV() *DAV {
	return &i.dav
}

func (i *iniConfigProvider) RangePolicy() *RangePolicy {
	return &i.rangePolicy
}

func mapSection(cfg *ini.File, section string, confStruct interface{}) error {
	err := cfg.Section(section).MapTo(confStruct)
	if err != nil {
		return err
	}

	validate := validator.New()
	err = validate.Struct(confStruct)
	if err != nil {
		return err
	}

	return nil
}

func getOverrideConfFromEnv(l logging.Logger) string {
	confMaps := make(map[string]map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envConfOverrideKey) {
			continue
		}

		kv := strings.SplitN(env, "=", 2)
		configKey := strings.TrimPrefix(kv[0], envConfOverrideKey)
		configValue := kv[1]
		sectionKey := strings.SplitN(configKey, ".", 2)
		if len(sectionKey) != 2 {
			continue
		}
		if confMaps[sectionKey[0]] == nil {
			confMaps[sectionKey[0]] = make(map[string]string)
		}

		confMaps[sectionKey[0]][sectionKey[1]] = configValue
		l.Info("Override config %q = %q", configKey, configValue)
	}

	var sb strings.Builder
	for section, kvs := range confMaps {
		sb.WriteString(fmt.Sprintf("[%s]\n", section))
		for k, v := range kvs {
			sb.WriteString(fmt.Sprintf("%s = %s\n", k, v))
		}
	}

	return sb.String()
}
