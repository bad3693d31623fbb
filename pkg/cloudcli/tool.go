// Package cloudcli runs Google Cloud command-line tools as child processes
// on behalf of an impersonated caller: it splits LLM-proposed command text
// into an argv, injects the caller's credentials into the process
// environment, lints gcloud invocations, and executes the result without a
// shell interpreter.
package cloudcli

import "fmt"

// Tool identifies one of the supported external CLIs.
type Tool string

const (
	ToolGcloud  Tool = "gcloud"
	ToolGsutil  Tool = "gsutil"
	ToolKubectl Tool = "kubectl"
	ToolBQ      Tool = "bq"
)

var knownTools = map[Tool]bool{
	ToolGcloud:  true,
	ToolGsutil:  true,
	ToolKubectl: true,
	ToolBQ:      true,
}

// ParseTool validates an LLM-supplied tool name.
func ParseTool(name string) (Tool, error) {
	t := Tool(name)
	if !knownTools[t] {
		return "", fmt.Errorf("unsupported tool %q (expected gcloud, gsutil, kubectl, or bq)", name)
	}
	return t, nil
}
