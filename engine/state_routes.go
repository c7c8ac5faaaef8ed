package engine

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type laneState struct {
	Tool   ToolKind `json:"tool"`
	Queued int      `json:"queued"`
	State
}

// GetState returns whether a tool is processing and its last error
// @Summary Get tool state
// @Tags Tools
// @Produce json
// @Param tool path string true "Tool kind"
// @Success 200 {object} laneState "Tool state"
// @Failure 404 {object} map[string]interface{} "Unknown tool"
// @Router /tools/{tool}/state [get]
func (serverHandler *ServerHandler) GetState(c echo.Context) error {
	lane, err := serverHandler.lane(c)
	if lane == nil {
		return err
	}
	return c.JSON(http.StatusOK, laneState{Tool: lane.Tool.Kind, Queued: lane.Queue.Len(), State: lane.Pipeline.State()})
}

// GetStates returns the state of every tool
// @Summary Get all tool states
// @Tags Tools
// @Produce json
// @Success 200 {array} laneState "Tool states"
// @Router /states [get]
func (serverHandler *ServerHandler) GetStates(c echo.Context) error {
	lanes := serverHandler.Workspace.Lanes()
	states := make([]laneState, 0, len(lanes))
	for _, lane := range lanes {
		states = append(states, laneState{Tool: lane.Tool.Kind, Queued: lane.Queue.Len(), State: lane.Pipeline.State()})
	}
	return c.JSON(http.StatusOK, states)
}
