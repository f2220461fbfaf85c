package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	a := c.Agent
	if a.MaxTokens < 0 {
		errs = append(errs, "agent.maxTokens must be non-negative")
	}
	if a.MemoryWindow < 0 {
		errs = append(errs, "agent.memoryWindow must be non-negative")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}

	wa := c.Channels.WhatsApp
	if wa.Enabled && wa.DBPath == "" {
		errs = append(errs, "channels.whatsapp.dbPath is required when whatsapp is enabled")
	}

	b := c.Batching
	for _, f := range []struct {
		name string
		v    int
	}{
		{"typingTimeoutMs", b.TypingTimeoutMS},
		{"maxWaitMs", b.MaxWaitMS},
		{"minWaitMs", b.MinWaitMS},
		{"initialDelayMs", b.InitialDelayMS},
		{"typingFallbackMs", b.TypingFallbackMS},
		{"graceWindowMs", b.GraceWindowMS},
		{"groupMinWaitMs", b.GroupMinWaitMS},
		{"groupMaxWaitMs", b.GroupMaxWaitMS},
		{"groupTypingTimeoutMs", b.GroupTypingTimeoutMS},
		{"maxBatchSize", b.MaxBatchSize},
		{"processingDelayMs", b.ProcessingDelayMS},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Sprintf("batching.%s must be non-negative", f.name))
		}
	}
	if b.MaxWaitMS > 0 && b.MinWaitMS > b.MaxWaitMS {
		errs = append(errs, "batching.minWaitMs must not exceed batching.maxWaitMs")
	}
	if b.GroupMaxWaitMS > 0 && b.GroupMinWaitMS > b.GroupMaxWaitMS {
		errs = append(errs, "batching.groupMinWaitMs must not exceed batching.groupMaxWaitMs")
	}

	hb := c.Services.Heartbeat
	if hb.Enabled && hb.IntervalS <= 0 {
		errs = append(errs, "services.heartbeat.intervalSeconds must be positive when enabled")
	}
	if hb.Enabled && hb.SilenceHours <= 0 {
		errs = append(errs, "services.heartbeat.silenceHours must be positive when enabled")
	}

	m := c.Services.Metrics
	if m.Enabled && m.Addr == "" {
		errs = append(errs, "services.metrics.addr is required when metrics is enabled")
	}

	return errs
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)

	switch t.Kind() {
	case reflect.Map:
		elemType := derefType(t.Elem())
		if elemType.Kind() != reflect.Struct {
			return nil
		}
		var unknown []string
		for key, val := range data {
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, elemType, joinPath(prefix, key))...)
			}
		}
		return unknown

	case reflect.Struct:
		known := jsonFieldMap(t)
		var unknown []string
		for key, val := range data {
			ft, ok := known[key]
			if !ok {
				unknown = append(unknown, joinPath(prefix, key))
				continue
			}
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
			}
		}
		return unknown

	default:
		return nil
	}
}

func jsonFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
