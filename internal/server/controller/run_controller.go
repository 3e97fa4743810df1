package controller

import (
	"time"

	"runcell/internal/artifact"
	"runcell/internal/sandbox"
	"runcell/internal/server/service"
	"runcell/internal/vm"
	"runcell/pkg/errors"
	"runcell/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RunController handles compile-and-run HTTP endpoints.
type RunController struct {
	runService *service.RunService
}

// NewRunController creates a new RunController.
func NewRunController(runService *service.RunService) *RunController {
	return &RunController{runService: runService}
}

// Run compiles the posted sources and executes them.
func (h *RunController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	out, err := h.runService.Run(c.Request.Context(), service.RunInput{
		Sources: req.Sources,
		Compile: req.CompileOptions,
		Run:     req.Run.toRunRequest(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Kill stops a run in progress.
func (h *RunController) Kill(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}
	if err := h.runService.Kill(c.Request.Context(), runID); err != nil {
		if errors.GetCode(err) == errors.NotFound {
			response.NotFound(c, err.Error())
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, KillResponse{RunID: runID, Killed: true})
}

// Status returns cache and run counters.
func (h *RunController) Status(c *gin.Context) {
	response.Success(c, h.runService.Status())
}

// RunRequest defines the run payload.
type RunRequest struct {
	Sources        map[string]string        `json:"sources" binding:"required"`
	CompileOptions *artifact.CompileOptions `json:"compileOptions"`
	Run            RunOptions               `json:"run"`
}

// RunOptions mirrors sandbox.RunRequest with the timeout in milliseconds.
type RunOptions struct {
	EntryClass       string                    `json:"entryClass"`
	EntryMethod      string                    `json:"entryMethod"`
	TimeoutMs        int64                     `json:"timeout"`
	Permissions      []vm.Permission           `json:"permissions"`
	UnsafeExceptions []string                  `json:"unsafeExceptions"`
	MaxExtraThreads  int                       `json:"maxExtraThreads"`
	MaxOutputLines   int                       `json:"maxOutputLines"`
	WaitForShutdown  bool                      `json:"waitForShutdown"`
	ClassLoader      sandbox.ClassLoaderConfig `json:"classLoader"`
	Plugins          PluginOptions             `json:"plugins"`
}

// PluginOptions enables execution plugins.
type PluginOptions struct {
	LineTrace *LineTraceOptions `json:"lineTrace"`
}

// LineTraceOptions configures the line trace plugin.
type LineTraceOptions struct {
	MaxSteps int `json:"maxSteps"`
}

// KillResponse defines the kill response payload.
type KillResponse struct {
	RunID  string `json:"runId"`
	Killed bool   `json:"killed"`
}

func (o RunOptions) toRunRequest() sandbox.RunRequest {
	req := sandbox.RunRequest{
		EntryClass:       o.EntryClass,
		EntryMethod:      o.EntryMethod,
		Timeout:          time.Duration(o.TimeoutMs) * time.Millisecond,
		Permissions:      o.Permissions,
		UnsafeExceptions: o.UnsafeExceptions,
		MaxExtraThreads:  o.MaxExtraThreads,
		MaxOutputLines:   o.MaxOutputLines,
		WaitForShutdown:  o.WaitForShutdown,
		ClassLoader:      o.ClassLoader,
	}
	if o.Plugins.LineTrace != nil {
		req.Plugins = append(req.Plugins, sandbox.LineTrace{MaxSteps: o.Plugins.LineTrace.MaxSteps})
	}
	return req
}
