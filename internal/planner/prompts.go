package planner

// directivePrefix opens the user turn of a planning request.
const directivePrefix = "COMPILE PRODUCTION SWARM FOR: "

// systemInstruction forbids prose and fixes the response shape.
const systemInstruction = `You are the mission compiler of a production swarm.
Decompose the operator directive into 2 to 6 strategic objectives.
Respond with a single JSON object and nothing else: no prose, no markdown.
Shape: {"objectives":[{"id":"t1","label":"Short_Label","assignedNode":"RA-01","description":"what the node must produce","type":"RESEARCH"}]}
type is one of RESEARCH, STRATEGY, IMAGE, VIDEO.
Nodes: SN-* apex, SP-* strategy, RA-* intelligence and search, CC-06 video, CC-10 image, CC-12 voice, CC-* creation, MI-* governance and fast checks, DT-* finance, ED-* education, PS-* special operations.`

// planSchema is the JSON schema sent with the request.
var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"objectives": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":           map[string]any{"type": "string"},
					"label":        map[string]any{"type": "string"},
					"assignedNode": map[string]any{"type": "string"},
					"description":  map[string]any{"type": "string"},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"RESEARCH", "STRATEGY", "IMAGE", "VIDEO"},
					},
				},
				"required": []string{"assignedNode", "description"},
			},
		},
	},
	"required": []string{"objectives"},
}
