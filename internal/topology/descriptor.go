package topology

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

const (
	clusterTypeSingle = "single-inst"
	deviceSerial      = "1000001"
)

// Param is one <PARAM name=".." value=".."/> element.
type Param struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Device is the <DEVICE> element of a descriptor.
type Device struct {
	SN     string  `xml:"sn,attr"`
	Params []Param `xml:"PARAM"`
}

// Descriptor is the single-node install descriptor for one new host.
type Descriptor struct {
	XMLName xml.Name `xml:"ROOT"`
	Cluster []Param  `xml:"CLUSTER>PARAM"`
	Devices []Device `xml:"DEVICELIST>DEVICE"`
}

// DescribeHost returns the install descriptor of h as a single-instance cluster.
func DescribeHost(p *Plan, h Host) Descriptor {
	cluster := []Param{
		{"clusterName", p.Cluster.Name},
		{"nodeNames", h.Name},
		{"backIp1s", h.BackIP},
		{"gaussdbAppPath", p.Cluster.AppPath},
		{"gaussdbLogPath", p.Cluster.LogPath},
		{"gaussdbToolPath", p.Cluster.ToolPath},
	}
	if p.Cluster.TmpPath != "" {
		cluster = append(cluster, Param{"tmpMppdbPath", p.Cluster.TmpPath})
	}
	cluster = append(cluster,
		Param{"corePath", p.Cluster.CorePath},
		Param{"clusterType", clusterTypeSingle},
	)

	device := Device{
		SN: deviceSerial,
		Params: []Param{
			{"name", h.Name},
			{"azName", h.AZName},
			{"azPriority", strconv.Itoa(h.AZPriority)},
			{"backIp1", h.BackIP},
			{"sshIp1", h.Address()},
			{"dataNum", "1"},
			{"dataPortBase", strconv.Itoa(h.Port)},
			{"dataNode1", h.DataDir},
		},
	}

	return Descriptor{Cluster: cluster, Devices: []Device{device}}
}

// XML renders the descriptor as an indented XML document.
func (d Descriptor) XML() (string, error) {
	out, err := xml.MarshalIndent(d, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}

	return xml.Header + string(out) + "\n", nil
}
