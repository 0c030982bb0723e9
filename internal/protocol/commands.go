package protocol

import "strings"

type Command string

const (
	CommandGetResponseBody Command = "Request.Network.getResponseBody"
	CommandQueryTabs       Command = "Request.queryTabs"
	CommandToURL           Command = "Request.toUrl"
	CommandExecuteScript   Command = "Request.executeScript"
)

// Commands lists every command the bridge understands.
var Commands = []Command{
	CommandGetResponseBody,
	CommandQueryTabs,
	CommandToURL,
	CommandExecuteScript,
}

// ResponseName maps Request.X to Response.X.
func (c Command) ResponseName() string {
	return responsePrefix + strings.TrimPrefix(string(c), requestPrefix)
}

func (c Command) Known() bool {
	for _, known := range Commands {
		if c == known {
			return true
		}
	}
	return false
}

type GetResponseBodyParams struct {
	TabID     int    `json:"tabId"`
	RequestID string `json:"requestId"`
}

type ToURLParams struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

type ExecuteScriptParams struct {
	TabID  int    `json:"tabId"`
	Script string `json:"script"`
}
