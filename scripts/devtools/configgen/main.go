package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile describes one environment: settings shared by every service plus
// per-service base files and overrides.
type Profile struct {
	OutputDir string                    `yaml:"outputDir"`
	Shared    SharedProfile             `yaml:"shared"`
	Services  map[string]ServiceProfile `yaml:"services"`
}

// SharedProfile holds connection settings every service must agree on.
type SharedProfile struct {
	Auth     map[string]interface{} `yaml:"auth"`
	Database map[string]interface{} `yaml:"database"`
	Redis    map[string]interface{} `yaml:"redis"`
	Kafka    map[string]interface{} `yaml:"kafka"`
	Judge0   map[string]interface{} `yaml:"judge0"`
}

type ServiceProfile struct {
	Base      string                 `yaml:"base"`
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	if err := run(*profilePath, *outputDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(profilePath, outputDir string) error {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return fmt.Errorf("load profile failed: %w", err)
	}

	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}

	serviceNames := make([]string, 0, len(profile.Services))
	for name := range profile.Services {
		serviceNames = append(serviceNames, name)
	}
	sort.Strings(serviceNames)

	for _, name := range serviceNames {
		svc := profile.Services[name]
		if svc.Base == "" {
			return fmt.Errorf("service %q missing base config", name)
		}
		if !filepath.IsAbs(svc.Base) {
			svc.Base = filepath.Join(profileDir, svc.Base)
		}
		config, err := renderService(profile, svc)
		if err != nil {
			return fmt.Errorf("render config for %q failed: %w", name, err)
		}
		outputPath, err := resolveOutputPath(profile.OutputDir, svc)
		if err != nil {
			return fmt.Errorf("resolve output path for %q failed: %w", name, err)
		}
		if err := writeYAML(outputPath, config); err != nil {
			return fmt.Errorf("write config for %q failed: %w", name, err)
		}
	}
	return nil
}

// renderService merges shared settings, then service overrides, onto the base file.
// Shared sections only touch sections the base file already declares.
func renderService(profile *Profile, svc ServiceProfile) (interface{}, error) {
	config, err := loadYAML(svc.Base)
	if err != nil {
		return nil, err
	}
	config = normalizeValue(config)

	config, err = applyShared(profile.Shared, config)
	if err != nil {
		return nil, err
	}
	if len(svc.Overrides) > 0 {
		config, err = mergeMap(config, normalizeValue(svc.Overrides))
		if err != nil {
			return nil, err
		}
	}
	return config, nil
}

func applyShared(shared SharedProfile, config interface{}) (interface{}, error) {
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("service config is not a map")
	}
	sections := map[string]map[string]interface{}{
		"auth":     shared.Auth,
		"database": shared.Database,
		"redis":    shared.Redis,
		"kafka":    shared.Kafka,
		"judge0":   shared.Judge0,
	}
	for key, values := range sections {
		if len(values) == 0 {
			continue
		}
		if _, declared := root[key]; !declared {
			continue
		}
		merged, err := mergeMap(map[string]interface{}{key: root[key]}, map[string]interface{}{key: normalizeValue(values)})
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", key, err)
		}
		root[key] = merged.(map[string]interface{})[key]
	}
	return root, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if len(profile.Services) == 0 {
		return nil, errors.New("profile has no services")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

func resolveOutputPath(outputDir string, svc ServiceProfile) (string, error) {
	output := svc.Output
	if output == "" {
		output = filepath.Base(svc.Base)
	}
	if output == "" || output == "." {
		return "", errors.New("output path is empty")
	}
	if filepath.IsAbs(output) {
		return output, nil
	}
	return filepath.Join(outputDir, output), nil
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap deep-merges override onto base. Lists and scalars are replaced.
func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}
