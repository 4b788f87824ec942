package config

// PerformanceConfig groups the metric sink's thresholds, baseline
// establishment parameters, and monitoring behavior (spec.md §4.10, §6).
type PerformanceConfig struct {
	Thresholds PerformanceThresholds `yaml:"thresholds"`
	Baseline   BaselineConfig        `yaml:"baseline"`
	Monitoring MonitoringConfig      `yaml:"monitoring"`
}

// PerformanceThresholds mirrors the coordination/task/agent-init/memory
// thresholds used to evaluate the sub-200ms coordination requirement.
type PerformanceThresholds struct {
	CoordinationOverheadWarningMs      float64 `yaml:"coordinationOverheadWarningMs"`
	CoordinationOverheadCriticalMs     float64 `yaml:"coordinationOverheadCriticalMs"`
	CoordinationOverheadMaxAcceptableMs float64 `yaml:"coordinationOverheadMaxAcceptableMs"`
	TaskExecutionWarningMs             float64 `yaml:"taskExecutionWarningMs"`
	TaskExecutionCriticalMs            float64 `yaml:"taskExecutionCriticalMs"`
	AgentInitWarningMs                 float64 `yaml:"agentInitWarningMs"`
	AgentInitCriticalMs                float64 `yaml:"agentInitCriticalMs"`
	CoordinationVarianceThreshold      float64 `yaml:"coordinationVarianceThreshold"`
}

// BaselineConfig controls how many samples and what confidence level are
// required before establish_baseline succeeds.
type BaselineConfig struct {
	MeasurementPeriodHours float64 `yaml:"measurementPeriodHours"`
	MinSamplesForBaseline  int     `yaml:"minSamplesForBaseline"`
	ConfidenceInterval     float64 `yaml:"confidenceInterval"`
	AutoUpdateBaseline     bool    `yaml:"autoUpdateBaseline"`
	UpdateFrequencyHours   float64 `yaml:"updateFrequencyHours"`
	BaselineRetentionDays  int     `yaml:"baselineRetentionDays"`
	MinSuccessRate         float64 `yaml:"minSuccessRate"`
	MaxVarianceCoefficient float64 `yaml:"maxVarianceCoefficient"`
}

// MonitoringConfig controls whether the sink is active and how it exports
// to CI.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled"`
	StorageDir                 string  `yaml:"storageDir"`
	CIExportEnabled            bool    `yaml:"ciExportEnabled"`
	CIExportFile               string  `yaml:"ciExportFile"`
	CIFailOnThresholdViolation bool    `yaml:"ciFailOnThresholdViolation"`
	AlertCooldownMinutes       float64 `yaml:"alertCooldownMinutes"`
}

// DefaultPerformanceConfig returns the defaults carried over from
// performance_config.py's dataclass field defaults.
func DefaultPerformanceConfig() PerformanceConfig {
	return PerformanceConfig{
		Thresholds: PerformanceThresholds{
			CoordinationOverheadWarningMs:       150.0,
			CoordinationOverheadCriticalMs:      200.0,
			CoordinationOverheadMaxAcceptableMs: 250.0,
			TaskExecutionWarningMs:              1000.0,
			TaskExecutionCriticalMs:             2000.0,
			AgentInitWarningMs:                  50.0,
			AgentInitCriticalMs:                 100.0,
			CoordinationVarianceThreshold:       50.0,
		},
		Baseline: BaselineConfig{
			MeasurementPeriodHours: 1.0,
			MinSamplesForBaseline:  100,
			ConfidenceInterval:     0.95,
			AutoUpdateBaseline:     true,
			UpdateFrequencyHours:   6.0,
			BaselineRetentionDays:  30,
			MinSuccessRate:         0.90,
			MaxVarianceCoefficient: 0.5,
		},
		Monitoring: MonitoringConfig{
			Enabled:                    true,
			StorageDir:                 ".codexplus/performance",
			CIExportEnabled:            true,
			CIExportFile:               "performance_metrics.json",
			CIFailOnThresholdViolation: true,
			AlertCooldownMinutes:       10,
		},
	}
}
