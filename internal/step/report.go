package step

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Emin017/RTL2GDS/internal/geometry"
)

// Report is the set of metrics extracted from one step's JSON report.
// Nil fields were not present in the report.
type Report struct {
	InstanceCount   *int
	CellArea        *float64
	DieArea         *float64
	CoreArea        *float64
	DieUtilization  *float64
	CoreUtilization *float64
	DieBox          *geometry.Rect
	CoreBox         *geometry.Rect
}

// ReportParser decodes the raw bytes of a step's report artifact.
type ReportParser func(data []byte) (Report, error)

// number decodes JSON numbers and numeric strings alike; the tools emit both.
type number struct {
	v   float64
	set bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	n.v, n.set = f, true
	return nil
}

type designLayout struct {
	DieArea    number `json:"die_area"`
	DieUsage   number `json:"die_usage"`
	CoreArea   number `json:"core_area"`
	CoreUsage  number `json:"core_usage"`
	DieWidth   number `json:"die_bounding_width"`
	DieHeight  number `json:"die_bounding_height"`
	CoreWidth  number `json:"core_bounding_width"`
	CoreHeight number `json:"core_bounding_height"`
}

type designStats struct {
	NumInstances number `json:"num_instances"`
}

type layoutDoc struct {
	Layout    designLayout `json:"Design Layout"`
	Instances struct {
		Total struct {
			Area number `json:"area"`
		} `json:"total"`
	} `json:"Instances"`
	Stats     *designStats `json:"Design Statis"`
	StatsFull *designStats `json:"Design Statistics"`
}

func (d *layoutDoc) numInstances() number {
	if d.Stats != nil && d.Stats.NumInstances.set {
		return d.Stats.NumInstances
	}
	if d.StatsFull != nil {
		return d.StatsFull.NumInstances
	}
	return number{}
}

func floatPtr(n number) *float64 {
	if !n.set {
		return nil
	}
	v := n.v
	return &v
}

func need(missing *[]string, n number, key string) {
	if !n.set {
		*missing = append(*missing, key)
	}
}

func missingKeys(kind string, missing []string) error {
	return fmt.Errorf("%s report missing %s", kind, strings.Join(missing, ", "))
}

func decodeLayout(data []byte) (*layoutDoc, error) {
	var doc layoutDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding layout report: %w", err)
	}
	return &doc, nil
}

// ParseLayoutReport extracts metrics from a physical-design step report.
func ParseLayoutReport(data []byte) (Report, error) {
	doc, err := decodeLayout(data)
	if err != nil {
		return Report{}, err
	}
	inst := doc.numInstances()

	var missing []string
	need(&missing, doc.Instances.Total.Area, "Instances.total.area")
	need(&missing, doc.Layout.CoreUsage, "Design Layout.core_usage")
	need(&missing, doc.Layout.DieUsage, "Design Layout.die_usage")
	need(&missing, inst, "Design Statis.num_instances")
	if len(missing) > 0 {
		return Report{}, missingKeys("layout", missing)
	}

	count := int(inst.v)
	return Report{
		InstanceCount:   &count,
		CellArea:        floatPtr(doc.Instances.Total.Area),
		DieArea:         floatPtr(doc.Layout.DieArea),
		CoreArea:        floatPtr(doc.Layout.CoreArea),
		DieUtilization:  floatPtr(doc.Layout.DieUsage),
		CoreUtilization: floatPtr(doc.Layout.CoreUsage),
	}, nil
}

// ParseFloorplanReport extends ParseLayoutReport with the die and core boxes
// reconstructed from the bounding dimensions. The core is centred in the die.
func ParseFloorplanReport(data []byte) (Report, error) {
	rep, err := ParseLayoutReport(data)
	if err != nil {
		return Report{}, err
	}
	doc, err := decodeLayout(data)
	if err != nil {
		return Report{}, err
	}
	l := doc.Layout

	var missing []string
	need(&missing, l.DieWidth, "Design Layout.die_bounding_width")
	need(&missing, l.DieHeight, "Design Layout.die_bounding_height")
	need(&missing, l.CoreWidth, "Design Layout.core_bounding_width")
	need(&missing, l.CoreHeight, "Design Layout.core_bounding_height")
	if len(missing) > 0 {
		return Report{}, missingKeys("floorplan", missing)
	}

	dw, dh, cw, ch := l.DieWidth.v, l.DieHeight.v, l.CoreWidth.v, l.CoreHeight.v
	mw, mh := (dw-cw)/2, (dh-ch)/2
	die := geometry.Rect{LLX: 0, LLY: 0, URX: dw, URY: dh}
	core := geometry.Rect{LLX: mw, LLY: mh, URX: mw + cw, URY: mh + ch}
	rep.DieBox = &die
	rep.CoreBox = &core
	return rep, nil
}

type synthDoc struct {
	Design struct {
		NumCells number `json:"num_cells"`
		Area     number `json:"area"`
	} `json:"design"`
}

// ParseSynthesisReport reads the cell count and area from a yosys stat report.
func ParseSynthesisReport(data []byte) (Report, error) {
	var doc synthDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Report{}, fmt.Errorf("decoding synthesis report: %w", err)
	}
	var missing []string
	need(&missing, doc.Design.Area, "design.area")
	need(&missing, doc.Design.NumCells, "design.num_cells")
	if len(missing) > 0 {
		return Report{}, missingKeys("synthesis", missing)
	}
	count := int(doc.Design.NumCells.v)
	return Report{
		InstanceCount: &count,
		CellArea:      floatPtr(doc.Design.Area),
	}, nil
}
