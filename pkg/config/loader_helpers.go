package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Browser.URL != "" {
		base.Browser.URL = override.Browser.URL
	}
	if override.Browser.MarionettePort != 0 {
		base.Browser.MarionettePort = override.Browser.MarionettePort
	}
	if override.Browser.FoxdriverPort != 0 {
		base.Browser.FoxdriverPort = override.Browser.FoxdriverPort
	}
	if override.Browser.RemotePort != 0 {
		base.Browser.RemotePort = override.Browser.RemotePort
	}
	if override.Browser.BiDiWebSocketURL != "" {
		base.Browser.BiDiWebSocketURL = override.Browser.BiDiWebSocketURL
	}
	if fieldSet(raw, "browser", "extensions") {
		base.Browser.Extensions = append([]string(nil), override.Browser.Extensions...)
	}
	if len(override.Browser.CDPHosts) > 0 {
		base.Browser.CDPHosts = append([]string(nil), override.Browser.CDPHosts...)
	}
	if override.Browser.DialTimeout != 0 {
		base.Browser.DialTimeout = override.Browser.DialTimeout
	}

	// zero is a meaningful retry budget, so presence decides
	if fieldSet(raw, "retry", "max_retries") {
		base.Retry.MaxRetries = override.Retry.MaxRetries
	}

	if override.Socket.BindingPrefix != "" {
		base.Socket.BindingPrefix = override.Socket.BindingPrefix
	}
	if override.Socket.GlobalPrefix != "" {
		base.Socket.GlobalPrefix = override.Socket.GlobalPrefix
	}
	if fieldSet(raw, "socket", "namespaces") {
		base.Socket.Namespaces = append([]string(nil), override.Socket.Namespaces...)
	}
	if override.Socket.QueueSize != 0 {
		base.Socket.QueueSize = override.Socket.QueueSize
	}

	if boolFieldSet(raw, "bus", "enabled") {
		base.Bus.Enabled = override.Bus.Enabled
	}
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Token != "" {
		base.Bus.Token = override.Bus.Token
	}
	if override.Bus.SubjectPrefix != "" {
		base.Bus.SubjectPrefix = override.Bus.SubjectPrefix
	}

	if boolFieldSet(raw, "metrics", "enabled") {
		base.Metrics.Enabled = override.Metrics.Enabled
	}
	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	if boolFieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.ServiceName != "" {
		base.Tracing.ServiceName = override.Tracing.ServiceName
	}

	if override.Log.Level != "" {
		base.Log.Level = override.Log.Level
	}
}

func fieldSet(raw map[string]any, path ...string) bool {
	if raw == nil || len(path) == 0 {
		return false
	}
	current := raw
	for i, key := range path {
		val, ok := current[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		next, ok := val.(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	return false
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if !fieldSet(raw, path...) {
		return false
	}
	current := raw
	for _, key := range path[:len(path)-1] {
		current = current[key].(map[string]any)
	}
	_, ok := current[path[len(path)-1]].(bool)
	return ok
}
