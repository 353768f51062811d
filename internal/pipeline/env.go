package pipeline

import (
	"strconv"
	"strings"
)

// Environment variables every tool invocation may read.
const (
	EnvTopName     = "TOP_NAME"
	EnvRTLFile     = "RTL_FILE"
	EnvNetlistFile = "NETLIST_FILE"
	EnvInputDef    = "INPUT_DEF"
	EnvOutputDef   = "OUTPUT_DEF"
	EnvSDCFile     = "SDC_FILE"
	EnvGdsFile     = "GDS_FILE"
	EnvResultDir   = "RESULT_DIR"
	EnvClkPortName = "CLK_PORT_NAME"
	EnvClkFreqMHz  = "CLK_FREQ_MHZ"
	EnvDieArea     = "DIE_AREA"
	EnvCoreArea    = "CORE_AREA"
	EnvCoreUtil    = "CORE_UTIL"
)

// rtlSeparator joins multiple RTL files into the list form yosys reads.
const rtlSeparator = " \n "

// ToolEnvironment flattens s into the variables passed to a tool. It does
// not modify s and returns a fresh map on every call.
func ToolEnvironment(s *DesignState) map[string]string {
	env := map[string]string{
		EnvTopName:     s.TopName,
		EnvResultDir:   s.ResultDir,
		EnvNetlistFile: s.NetlistPath,
		EnvInputDef:    s.DefPath,
		EnvOutputDef:   s.DefPath,
		EnvGdsFile:     s.GdsPath,
		EnvClkPortName: s.Constraint.ClockPortName,
	}
	if len(s.RTLSources) > 0 {
		env[EnvRTLFile] = strings.Join(s.RTLSources, rtlSeparator)
	}
	if s.SDCPath != "" {
		env[EnvSDCFile] = s.SDCPath
	}
	if s.Constraint.ClockFreqMHz > 0 {
		env[EnvClkFreqMHz] = formatFloat(s.Constraint.ClockFreqMHz)
	}
	if s.Constraint.DieBox != nil {
		env[EnvDieArea] = s.Constraint.DieBox.String()
	}
	if s.Constraint.CoreBox != nil {
		env[EnvCoreArea] = s.Constraint.CoreBox.String()
	}
	if s.Constraint.CoreUtilization > 0 {
		env[EnvCoreUtil] = formatFloat(s.Constraint.CoreUtilization)
	}
	return env
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
