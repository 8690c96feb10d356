package loop

import "browsir/internal/domain"

// ToolSchemas returns the fixed tool set the loop controller advertises to
// the LLM on every turn: the three CDP-backed browser tools C1 dispatches
// directly, plus the bash/filesystem/tab tools dispatch.go's default
// branch forwards to the bridge or the platform tabs collaborator.
// Unlike the donor's dynamically-loaded plugin tools, this set never
// changes at runtime.
func ToolSchemas() []domain.ToolSchema {
	return []domain.ToolSchema{
		{
			Name:        toolSnapshot,
			Description: "Capture the accessibility-tree snapshot of a browser tab.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"tab_id": {"type": "string"},
					"mode": {"type": "string", "enum": ["full", "diff"]},
					"filter": {"type": "string", "enum": ["interactive", "all"]},
					"selector": {"type": "string"},
					"depth": {"type": "integer"},
					"max_tokens": {"type": "integer"},
					"max_nodes": {"type": "integer"}
				},
				"required": ["tab_id"]
			}`),
		},
		{
			Name:        toolBrowserAction,
			Description: "Perform a single mutating or navigating action against a browser tab (click, type, navigate, key press, etc).",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"tab_id": {"type": "string"},
					"kind": {"type": "string"},
					"backend_node_id": {"type": "integer"},
					"ref": {"type": "string"},
					"selector": {"type": "string"},
					"hint": {"type": "string"},
					"value": {"type": "string"},
					"url": {"type": "string"},
					"key": {"type": "string"}
				},
				"required": ["tab_id", "kind"]
			}`),
		},
		{
			Name:        toolBrowserVerify,
			Description: "Poll a tab until it matches the expected post-action state, or time out.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"tab_id": {"type": "string"},
					"before": {"type": "object"},
					"expect": {"type": "array", "items": {"type": "object"}},
					"wait_for_ms": {"type": "integer"},
					"poll_interval_ms": {"type": "integer"}
				},
				"required": ["tab_id", "expect"]
			}`),
		},
		{
			Name:        toolBash,
			Description: "Run a shell command on the host, via the bridge daemon.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"command": {"type": "string"},
					"cwd": {"type": "string"},
					"timeout_ms": {"type": "integer"}
				},
				"required": ["command"]
			}`),
		},
		{
			Name:        toolReadFile,
			Description: "Read a file from the host filesystem, via the bridge daemon.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        toolWriteFile,
			Description: "Write (overwrite) a file on the host filesystem, via the bridge daemon.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        toolEditFile,
			Description: "Apply a find/replace edit to a file on the host filesystem, via the bridge daemon.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"find": {"type": "string"},
					"replace": {"type": "string"}
				},
				"required": ["path", "find", "replace"]
			}`),
		},
		{
			Name:        toolListTabs,
			Description: "List the browser tabs currently open, via the platform tabs API.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {}
			}`),
		},
		{
			Name:        toolOpenTab,
			Description: "Open a new browser tab at a URL, via the platform tabs API.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"url": {"type": "string"}
				},
				"required": ["url"]
			}`),
		},
	}
}
