package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Emin017/RTL2GDS/internal/geometry"
	"github.com/Emin017/RTL2GDS/internal/step"
)

// Keys of the design config and checkpoint mapping.
const (
	KeyRunID        = "RUN_ID"
	KeyTopName      = "TOP_NAME"
	KeyRTLFile      = "RTL_FILE"
	KeyResultDir    = "RESULT_DIR"
	KeyNetlistFile  = "NETLIST_FILE"
	KeyDefFile      = "DEF_FILE"
	KeyGdsFile      = "GDS_FILE"
	KeySDCFile      = "SDC_FILE"
	KeyClkPortName  = "CLK_PORT_NAME"
	KeyClkFreqMHz   = "CLK_FREQ_MHZ"
	KeyDieArea      = "DIE_AREA"
	KeyCoreArea     = "CORE_AREA"
	KeyDieBBox      = "DIE_BBOX"
	KeyCoreBBox     = "CORE_BBOX"
	KeyCoreUtil     = "CORE_UTIL"
	KeyMetrics      = "METRICS"
	KeyFinishedStep = "FINISHED_STEP"
	KeyExpectedStep = "EXPECTED_STEP"
	KeyLastUpdate   = "LAST_UPDATE_TIME"
)

// DefaultResultDir is used when a config names no RESULT_DIR.
const DefaultResultDir = "./results"

// legacyTimeLayout is the timestamp form older checkpoints carry.
const legacyTimeLayout = "20060102_150405"

// ConfigError reports a missing or invalid design configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Load reads a design config or checkpoint file.
func Load(path string) (*DesignState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse design config %s: %w", path, err)
	}
	if raw == nil {
		return nil, &ConfigError{Field: KeyTopName, Reason: "config file is empty"}
	}
	return FromMap(raw)
}

// FromMap builds a DesignState from a config mapping. Keys match
// case-insensitively.
func FromMap(raw map[string]any) (*DesignState, error) {
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		m[strings.ToUpper(k)] = v
	}

	s := &DesignState{FinishedStage: step.Init}

	var err error
	if s.TopName, err = str(m, KeyTopName); err != nil {
		return nil, err
	}
	if s.TopName == "" {
		return nil, &ConfigError{Field: KeyTopName, Reason: "required"}
	}
	if s.RunID, err = str(m, KeyRunID); err != nil {
		return nil, err
	}
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}

	if s.RTLSources, err = strList(m, KeyRTLFile); err != nil {
		return nil, err
	}
	if s.ResultDir, err = str(m, KeyResultDir); err != nil {
		return nil, err
	}
	if s.ResultDir == "" {
		s.ResultDir = DefaultResultDir
	}
	rd, top := s.ResultDir, s.TopName
	if s.NetlistPath, err = strOr(m, KeyNetlistFile, filepath.Join(rd, top+"_nl.v")); err != nil {
		return nil, err
	}
	if s.DefPath, err = strOr(m, KeyDefFile, filepath.Join(rd, top+".def")); err != nil {
		return nil, err
	}
	if s.GdsPath, err = strOr(m, KeyGdsFile, filepath.Join(rd, top+".gds")); err != nil {
		return nil, err
	}
	if s.SDCPath, err = str(m, KeySDCFile); err != nil {
		return nil, err
	}

	if err := loadConstraint(m, &s.Constraint); err != nil {
		return nil, err
	}
	if err := loadMetrics(m, &s.Metrics); err != nil {
		return nil, err
	}
	if err := loadProgress(m, s); err != nil {
		return nil, err
	}

	if len(s.RTLSources) == 0 && !fileExists(s.DefPath) {
		return nil, &ConfigError{Field: KeyRTLFile, Reason: "required unless " + KeyDefFile + " names an existing file"}
	}
	if step.After(s.FinishedStage, step.Synthesis) && !fileExists(s.DefPath) {
		return nil, &ConfigError{Field: KeyDefFile, Reason: fmt.Sprintf("%s does not exist but %s is %s", s.DefPath, KeyFinishedStep, s.FinishedStage)}
	}
	return s, nil
}

func loadConstraint(m map[string]any, c *Constraint) error {
	var err error
	if c.ClockPortName, err = str(m, KeyClkPortName); err != nil {
		return err
	}
	if c.ClockPortName == "" {
		return &ConfigError{Field: KeyClkPortName, Reason: "required"}
	}
	if c.ClockFreqMHz, err = num(m, KeyClkFreqMHz); err != nil {
		return err
	}
	if _, ok := m[KeyClkFreqMHz]; ok && c.ClockFreqMHz <= 0 {
		return &ConfigError{Field: KeyClkFreqMHz, Reason: "must be positive"}
	}

	if c.DieBox, err = box(m, KeyDieArea, KeyDieBBox); err != nil {
		return err
	}
	if c.CoreBox, err = box(m, KeyCoreArea, KeyCoreBBox); err != nil {
		return err
	}
	if c.CoreUtilization, err = num(m, KeyCoreUtil); err != nil {
		return err
	}
	if c.CoreUtilization != 0 && (c.CoreUtilization <= 0 || c.CoreUtilization >= 1) {
		return &ConfigError{Field: KeyCoreUtil, Reason: fmt.Sprintf("%g not in (0,1)", c.CoreUtilization)}
	}
	return nil
}

func loadMetrics(m map[string]any, out *Metrics) error {
	v, ok := m[KeyMetrics]
	if !ok || v == nil {
		return nil
	}
	// Round-trip through YAML so the struct tags do the field mapping.
	data, err := yaml.Marshal(v)
	if err != nil {
		return &ConfigError{Field: KeyMetrics, Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &ConfigError{Field: KeyMetrics, Reason: err.Error()}
	}
	return nil
}

func loadProgress(m map[string]any, s *DesignState) error {
	finished, err := str(m, KeyFinishedStep)
	if err != nil {
		return err
	}
	if finished != "" {
		id := step.ID(strings.ToLower(finished))
		if !id.Ordered() {
			return &ConfigError{Field: KeyFinishedStep, Reason: fmt.Sprintf("unknown stage %q", finished)}
		}
		s.FinishedStage = id
	}

	expected, err := str(m, KeyExpectedStep)
	if err != nil {
		return err
	}
	if expected != "" && step.ID(strings.ToLower(expected)) != s.ExpectedStage() {
		return &ConfigError{
			Field:  KeyExpectedStep,
			Reason: fmt.Sprintf("%q does not follow %s %q", expected, KeyFinishedStep, s.FinishedStage),
		}
	}

	ts, err := str(m, KeyLastUpdate)
	if err != nil {
		return err
	}
	if ts != "" {
		t, err := parseTimestamp(ts)
		if err != nil {
			return &ConfigError{Field: KeyLastUpdate, Reason: err.Error()}
		}
		s.LastUpdate = t
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return t, nil
}

func str(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case int, int64, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", &ConfigError{Field: key, Reason: fmt.Sprintf("expected a string, got %T", v)}
}

func strOr(m map[string]any, key, def string) (string, error) {
	s, err := str(m, key)
	if err != nil || s != "" {
		return s, err
	}
	return def, nil
}

func strList(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		return []string{strings.TrimSpace(x)}, nil
	case []any:
		out := make([]string, 0, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, &ConfigError{Field: key, Reason: fmt.Sprintf("element %d is %T, want string", i, e)}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &ConfigError{Field: key, Reason: fmt.Sprintf("expected a path or list of paths, got %T", v)}
}

func num(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, &ConfigError{Field: key, Reason: fmt.Sprintf("%q is not a number", x)}
		}
		return f, nil
	}
	return 0, &ConfigError{Field: key, Reason: fmt.Sprintf("expected a number, got %T", v)}
}

// box reads a rectangle from key, falling back to alias.
func box(m map[string]any, key, alias string) (*geometry.Rect, error) {
	field := key
	if _, ok := m[key]; !ok {
		field = alias
	}
	s, err := str(m, field)
	if err != nil || s == "" {
		return nil, err
	}
	r, err := geometry.ParseRect(s)
	if err != nil {
		return nil, &ConfigError{Field: field, Reason: err.Error()}
	}
	return &r, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// checkpointDoc is the on-disk form of a DesignState.
type checkpointDoc struct {
	RunID          string   `yaml:"RUN_ID"`
	TopName        string   `yaml:"TOP_NAME"`
	RTLFile        []string `yaml:"RTL_FILE,omitempty"`
	ResultDir      string   `yaml:"RESULT_DIR"`
	NetlistFile    string   `yaml:"NETLIST_FILE"`
	DefFile        string   `yaml:"DEF_FILE"`
	GdsFile        string   `yaml:"GDS_FILE"`
	SDCFile        string   `yaml:"SDC_FILE,omitempty"`
	ClkPortName    string   `yaml:"CLK_PORT_NAME"`
	ClkFreqMHz     float64  `yaml:"CLK_FREQ_MHZ,omitempty"`
	DieArea        string   `yaml:"DIE_AREA,omitempty"`
	CoreArea       string   `yaml:"CORE_AREA,omitempty"`
	CoreUtil       float64  `yaml:"CORE_UTIL,omitempty"`
	Metrics        Metrics  `yaml:"METRICS"`
	FinishedStep   string   `yaml:"FINISHED_STEP"`
	ExpectedStep   string   `yaml:"EXPECTED_STEP"`
	LastUpdateTime string   `yaml:"LAST_UPDATE_TIME"`
}

func toDoc(s *DesignState) checkpointDoc {
	d := checkpointDoc{
		RunID:          s.RunID,
		TopName:        s.TopName,
		RTLFile:        s.RTLSources,
		ResultDir:      s.ResultDir,
		NetlistFile:    s.NetlistPath,
		DefFile:        s.DefPath,
		GdsFile:        s.GdsPath,
		SDCFile:        s.SDCPath,
		ClkPortName:    s.Constraint.ClockPortName,
		ClkFreqMHz:     s.Constraint.ClockFreqMHz,
		CoreUtil:       s.Constraint.CoreUtilization,
		Metrics:        s.Metrics,
		FinishedStep:   string(s.FinishedStage),
		ExpectedStep:   string(s.ExpectedStage()),
		LastUpdateTime: s.LastUpdate.UTC().Format(time.RFC3339),
	}
	if s.Constraint.DieBox != nil {
		d.DieArea = s.Constraint.DieBox.String()
	}
	if s.Constraint.CoreBox != nil {
		d.CoreArea = s.Constraint.CoreBox.String()
	}
	return d
}

// Marshal encodes s in the checkpoint format Load reads back.
func Marshal(s *DesignState) ([]byte, error) {
	data, err := yaml.Marshal(toDoc(s))
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}
