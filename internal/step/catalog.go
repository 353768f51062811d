package step

import (
	"fmt"
	"strings"
)

// Artifact is a file or directory a tool must produce.
type Artifact struct {
	Name     string // logical name, e.g. "def"
	Template string // path template, e.g. "{resultDir}/{topName}_{stageId}.def"
	Env      string // environment variable carrying the resolved path to the tool
	Dir      bool   // artifact is a directory
}

// Descriptor is the static description of one step.
type Descriptor struct {
	ID          ID
	Tool        string
	Description string
	Command     []string
	Artifacts   []Artifact
	Report      ReportParser // nil for steps without a machine-readable report
	ProducesDEF bool
}

// ReportArtifact names the artifact holding a step's JSON report.
const ReportArtifact = "design_stat_json"

// Vars are the values substituted into command and artifact templates.
type Vars struct {
	TopName     string
	ResultDir   string
	Stage       ID
	Finished    ID
	Tool        string
	NetlistFile string
	GdsFile     string
	ToolDir     string
	ScriptDir   string
	FoundryDir  string
}

// Expand substitutes {placeholders} in tmpl. Unknown placeholders are left as-is.
func Expand(tmpl string, v Vars) string {
	r := strings.NewReplacer(
		"{topName}", v.TopName,
		"{resultDir}", v.ResultDir,
		"{stageId}", string(v.Stage),
		"{finishedStage}", string(v.Finished),
		"{tool}", v.Tool,
		"{netlistFile}", v.NetlistFile,
		"{gdsFile}", v.GdsFile,
		"{toolDir}", v.ToolDir,
		"{scriptDir}", v.ScriptDir,
		"{foundryDir}", v.FoundryDir,
	)
	return r.Replace(tmpl)
}

// ExpandAll applies Expand to every element of argv.
func ExpandAll(argv []string, v Vars) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = Expand(a, v)
	}
	return out
}

// Catalog is an immutable lookup table of step descriptors.
type Catalog struct {
	byID map[ID]Descriptor
}

// NewCatalog builds the default catalog, replacing the command of any step
// named in overrides.
func NewCatalog(overrides map[ID][]string) (*Catalog, error) {
	c := &Catalog{byID: make(map[ID]Descriptor)}
	for _, d := range defaultDescriptors() {
		if argv, ok := overrides[d.ID]; ok {
			if len(argv) == 0 {
				return nil, fmt.Errorf("command override for %q is empty", d.ID)
			}
			d.Command = append([]string(nil), argv...)
		}
		c.byID[d.ID] = d
	}
	for id := range overrides {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("command override for unknown step %q", id)
		}
	}
	return c, nil
}

// DefaultCatalog returns the catalog with built-in commands.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(nil)
	return c
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id ID) (Descriptor, error) {
	d, ok := c.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("no descriptor for step %q", id)
	}
	d.Command = append([]string(nil), d.Command...)
	d.Artifacts = append([]Artifact(nil), d.Artifacts...)
	return d, nil
}

func ieda(script string) []string {
	return []string{"iEDA", "-script", "{scriptDir}/" + script}
}

func statArtifacts() []Artifact {
	return []Artifact{
		{Name: ReportArtifact, Template: "{resultDir}/report/{stageId}_stat.json", Env: "DESIGN_STAT_JSON"},
		{Name: "design_stat_text", Template: "{resultDir}/report/{stageId}_stat.rpt", Env: "DESIGN_STAT_TEXT"},
	}
}

func defArtifacts() []Artifact {
	return []Artifact{
		{Name: "def", Template: "{resultDir}/{topName}_{stageId}.def", Env: "OUTPUT_DEF"},
		{Name: "verilog", Template: "{resultDir}/{topName}_{stageId}.v", Env: "OUTPUT_VERILOG"},
	}
}

var toolMetrics = Artifact{Name: "tool_metrics_json", Template: "{resultDir}/metrics/{tool}_{stageId}.json", Env: "TOOL_METRICS_JSON"}

var toolReportDir = Artifact{Name: "tool_report_dir", Template: "{resultDir}/report/{tool}", Env: "TOOL_REPORT_DIR", Dir: true}

func prStep(id ID, tool, desc, script string, extra ...Artifact) Descriptor {
	arts := append(defArtifacts(), statArtifacts()...)
	arts = append(arts, extra...)
	return Descriptor{
		ID:          id,
		Tool:        tool,
		Description: desc,
		Command:     ieda(script),
		Artifacts:   arts,
		Report:      ParseLayoutReport,
		ProducesDEF: true,
	}
}

func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:          Synthesis,
			Tool:        "yosys",
			Description: "Logic synthesis by yosys",
			Command:     []string{"yosys", "{toolDir}/yosys/yosys.tcl"},
			Artifacts: []Artifact{
				{Name: "netlist", Template: "{netlistFile}", Env: "NETLIST_FILE"},
				{Name: ReportArtifact, Template: "{resultDir}/report/synth_stat.json", Env: "DESIGN_STAT_JSON"},
				{Name: "design_stat_text", Template: "{resultDir}/report/synth_check.txt", Env: "DESIGN_STAT_TEXT"},
			},
			Report: ParseSynthesisReport,
		},
		{
			ID:          Floorplan,
			Tool:        "iEDA-iFP",
			Description: "Floorplan by iEDA-iFP",
			Command:     ieda("iFP_script/run_iFP.tcl"),
			Artifacts: append([]Artifact{
				{Name: "def", Template: "{resultDir}/{topName}_{stageId}.def", Env: "OUTPUT_DEF"},
			}, statArtifacts()...),
			Report:      ParseFloorplanReport,
			ProducesDEF: true,
		},
		prStep(NetlistOpt, "iEDA-iNO", "Fixing fanout by iEDA-iNO", "iNO_script/run_iNO_fix_fanout.tcl", toolMetrics),
		prStep(Placement, "iEDA-iPL", "Standard cell placement by iEDA-iPL", "iPL_script/run_iPL.tcl", toolMetrics, toolReportDir),
		prStep(CTS, "iEDA-iCTS", "Clock tree synthesis by iEDA-iCTS", "iCTS_script/run_iCTS.tcl", toolMetrics, toolReportDir),
		prStep(Legalization, "iEDA-iPL", "Incremental legalization by iEDA-iPL", "iPL_script/run_iPL_legalization.tcl"),
		prStep(Routing, "iEDA-iRT", "Routing by iEDA-iRT", "iRT_script/run_iRT.tcl", toolMetrics, toolReportDir),
		prStep(Filler, "iEDA-iPL", "Filler insertion by iEDA-iPL", "iPL_script/run_iPL_filler.tcl"),
		{
			ID:          LayoutGDS,
			Tool:        "iEDA",
			Description: "Export layout to GDS",
			Command:     ieda("DB_script/run_def_to_gds_text.tcl"),
			Artifacts: []Artifact{
				{Name: "gds_file", Template: "{resultDir}/{topName}_{finishedStage}.gds", Env: "GDS_FILE"},
			},
		},
		{
			ID:          LayoutJSON,
			Tool:        "iEDA",
			Description: "Export layout description to JSON",
			Command:     ieda("DB_script/run_def_to_json_text.tcl"),
			Artifacts: []Artifact{
				{Name: "layout_json", Template: "{resultDir}/{topName}_{finishedStage}.json", Env: "LAYOUT_JSON_FILE"},
			},
		},
		{
			ID:          Snapshot,
			Tool:        "klayout",
			Description: "Render a layout snapshot image",
			Command:     []string{"klayout", "-b", "-zz", "-r", "{toolDir}/klayout/snapshot.py"},
			Artifacts: []Artifact{
				{Name: "snapshot_file", Template: "{resultDir}/{topName}_{finishedStage}.png", Env: "SNAPSHOT_FILE"},
			},
		},
		{
			ID:          STA,
			Tool:        "iEDA-iSTA",
			Description: "Static timing analysis by iEDA-iSTA",
			Command:     ieda("iSTA_script/run_iSTA.tcl"),
			Artifacts: []Artifact{
				{Name: "sta_report_dir", Template: "{resultDir}/sta", Env: "TOOL_REPORT_DIR", Dir: true},
			},
		},
		{
			ID:          DRC,
			Tool:        "klayout",
			Description: "Design rule check by klayout",
			Command: []string{
				"klayout", "-b", "-zz",
				"-r", "{foundryDir}/libs.tech/klayout/tech/drc/minimal.lydrc",
				"-rd", "in_gds={gdsFile}",
				"-rd", "cell={topName}",
				"-rd", "report_file={resultDir}/report/drc_{topName}.lyrdb",
			},
			Artifacts: []Artifact{
				{Name: "drc_report_db", Template: "{resultDir}/report/drc_{topName}.lyrdb", Env: "DRC_REPORT_DB"},
			},
		},
	}
}
