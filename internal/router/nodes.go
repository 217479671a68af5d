package router

import (
	"fmt"
	"strings"
)

// Cluster groups nodes by their id prefix.
type Cluster struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
	Index  int    `json:"index"`
}

// Clusters in roster order.
var Clusters = []Cluster{
	{Prefix: "SN", Name: "Apex", Index: 0},
	{Prefix: "SP", Name: "Strategy", Index: 1},
	{Prefix: "RA", Name: "Intelligence", Index: 2},
	{Prefix: "CC", Name: "Creation", Index: 3},
	{Prefix: "MI", Name: "Governance", Index: 4},
	{Prefix: "DT", Name: "Finance", Index: 5},
	{Prefix: "ED", Name: "Education", Index: 6},
	{Prefix: "PS", Name: "Special Ops", Index: 7},
}

// Node is one executing unit of the swarm.
type Node struct {
	ID        string `json:"id"`
	Cluster   string `json:"cluster"`
	Specialty Route  `json:"specialty,omitempty"`
}

// specialties are node-specific routes; cluster-wide ones are by prefix.
var specialties = map[string]Route{
	"CC-06": RouteVideo,
	"CC-10": RouteImageGenerate,
	"CC-12": RouteSpeech,
}

var prefixSpecialties = map[string]Route{
	"RA": RouteSearch,
	"MI": RouteFast,
}

// nodesPerCluster sizes the default roster.
var nodesPerCluster = map[string]int{
	"SN": 1, "SP": 3, "RA": 4, "CC": 12, "MI": 3, "DT": 2, "ED": 2, "PS": 2,
}

// SpecialtyOf returns the declared specialty of a node id.
func SpecialtyOf(nodeID string) (Route, bool) {
	id := strings.ToUpper(strings.TrimSpace(nodeID))
	if r, ok := specialties[id]; ok {
		return r, true
	}
	prefix, _, _ := strings.Cut(id, "-")
	r, ok := prefixSpecialties[prefix]
	return r, ok
}

// ClusterOf returns the cluster a node id belongs to.
func ClusterOf(nodeID string) (Cluster, bool) {
	prefix, _, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(nodeID)), "-")
	for _, c := range Clusters {
		if c.Prefix == prefix {
			return c, true
		}
	}
	return Cluster{}, false
}

// Roster returns the default node roster in cluster order.
func Roster() []Node {
	var nodes []Node
	for _, c := range Clusters {
		start := 1
		if c.Prefix == "SN" {
			start = 0
		}
		for i := start; i < start+nodesPerCluster[c.Prefix]; i++ {
			id := fmt.Sprintf("%s-%02d", c.Prefix, i)
			spec, _ := SpecialtyOf(id)
			nodes = append(nodes, Node{ID: id, Cluster: c.Name, Specialty: spec})
		}
	}
	return nodes
}
