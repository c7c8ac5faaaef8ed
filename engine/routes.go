package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/drummonds/piconverter/config"
	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/internal/build"
	"github.com/drummonds/piconverter/queue"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Workspace    *Workspace
	Echo         *echo.Echo
	ServerConfig config.Config
}

type toolView struct {
	ToolDescriptor
	AcceptFilter string `json:"acceptFilter"`
}

type queueItemView struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	SizeHuman  string       `json:"sizeHuman"`
	MIMEType   string       `json:"mimeType"`
	Status     queue.Status `json:"status"`
	Pages      int          `json:"pages,omitempty"`
	HasPreview bool         `json:"hasPreview"`
	PreviewURL string       `json:"previewURL,omitempty"`
}

type queueView struct {
	Tool       ToolKind        `json:"tool"`
	Items      []queueItemView `json:"items"`
	TotalBytes int64           `json:"totalBytes"`
	State      State           `json:"state"`
}

// NewServer builds the echo instance with every API route registered
func NewServer(ws *Workspace, serverConfig config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]interface{}{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
	e.Use(middleware.Recover())

	serverHandler := &ServerHandler{Workspace: ws, Echo: e, ServerConfig: serverConfig}
	serverHandler.RegisterRoutes()
	return e
}

// RegisterRoutes adds the API routes to the handler's echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo
	e.GET("/api/tools", serverHandler.GetTools)
	e.GET("/api/tools/:tool/queue", serverHandler.GetQueue)
	e.POST("/api/tools/:tool/queue", serverHandler.AddToQueue)
	e.DELETE("/api/tools/:tool/queue/:id", serverHandler.RemoveFromQueue)
	e.GET("/api/tools/:tool/queue/:id/preview", serverHandler.GetPreview)
	e.POST("/api/tools/:tool/execute", serverHandler.Execute)
	e.GET("/api/tools/:tool/state", serverHandler.GetState)
	e.GET("/api/states", serverHandler.GetStates)
	e.GET("/api/about", serverHandler.GetAboutInfo)
}

func jsonError(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]interface{}{
		"error": message,
	})
}

func (serverHandler *ServerHandler) lane(c echo.Context) (*Lane, error) {
	lane, err := serverHandler.Workspace.Lane(c.Param("tool"))
	if err != nil {
		return nil, jsonError(c, http.StatusNotFound, err.Error())
	}
	return lane, nil
}

func viewQueue(lane *Lane) queueView {
	items := lane.Queue.Items()
	view := queueView{
		Tool:       lane.Tool.Kind,
		Items:      make([]queueItemView, 0, len(items)),
		TotalBytes: lane.Queue.TotalBytes(),
		State:      lane.Pipeline.State(),
	}
	for _, item := range items {
		v := queueItemView{
			ID:         item.ID,
			Name:       item.Payload.Name,
			Size:       item.Payload.Size,
			SizeHuman:  humanize.Bytes(uint64(item.Payload.Size)),
			MIMEType:   item.Payload.MIMEType,
			Status:     item.Status,
			Pages:      item.Pages,
			HasPreview: item.HasPreview(),
		}
		if v.HasPreview {
			v.PreviewURL = fmt.Sprintf("/api/tools/%s/queue/%s/preview", lane.Tool.Kind, item.ID)
		}
		view.Items = append(view.Items, v)
	}
	return view
}

// GetTools lists the available tools
// @Summary List tools
// @Description Retrieve every conversion tool with its accept filter
// @Tags Tools
// @Produce json
// @Success 200 {array} toolView "Tools"
// @Router /tools [get]
func (serverHandler *ServerHandler) GetTools(c echo.Context) error {
	tools := Tools()
	views := make([]toolView, len(tools))
	for i, tool := range tools {
		views[i] = toolView{ToolDescriptor: tool, AcceptFilter: tool.AcceptFilter()}
	}
	return c.JSON(http.StatusOK, views)
}

// GetQueue returns the files queued for a tool
// @Summary Get tool queue
// @Tags Queue
// @Produce json
// @Param tool path string true "Tool kind"
// @Success 200 {object} queueView "Queue"
// @Failure 404 {object} map[string]interface{} "Unknown tool"
// @Router /tools/{tool}/queue [get]
func (serverHandler *ServerHandler) GetQueue(c echo.Context) error {
	lane, err := serverHandler.lane(c)
	if lane == nil {
		return err
	}
	return c.JSON(http.StatusOK, viewQueue(lane))
}

func readUpload(fileHeader *multipart.FileHeader) (queue.Payload, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return queue.Payload{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return queue.Payload{}, err
	}
	name := filepath.Base(fileHeader.Filename)
	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = queue.DetectMIME(name, data)
	}
	return queue.Payload{Name: name, Size: int64(len(data)), MIMEType: mimeType, Bytes: data}, nil
}

// AddToQueue selects uploaded files for a tool. Multi-input tools append, the others replace.
// @Summary Queue files
// @Tags Queue
// @Accept multipart/form-data
// @Produce json
// @Param tool path string true "Tool kind"
// @Param files formData file true "Files to queue"
// @Success 200 {object} queueView "Queue"
// @Failure 400 {object} map[string]interface{} "No files or wrong file type"
// @Failure 413 {object} map[string]interface{} "Queue limit exceeded"
// @Router /tools/{tool}/queue [post]
func (serverHandler *ServerHandler) AddToQueue(c echo.Context) error {
	lane, err := serverHandler.lane(c)
	if lane == nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "Expected a multipart form with files")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return jsonError(c, http.StatusBadRequest, "No files uploaded")
	}

	payloads := make([]queue.Payload, 0, len(headers))
	sizes := make([]int64, 0, len(headers))
	for _, fileHeader := range headers {
		payload, err := readUpload(fileHeader)
		if err != nil {
			Logger.Error("Unable to read uploaded file", "name", fileHeader.Filename, "error", err)
			return jsonError(c, http.StatusBadRequest, "Unable to read uploaded file")
		}
		if !lane.Tool.AcceptsMIME(payload.MIMEType) {
			return jsonError(c, http.StatusBadRequest,
				fmt.Sprintf("%s accepts %s files only, %s is %s", lane.Tool.Title, lane.Tool.AcceptFilter(), payload.Name, payload.MIMEType))
		}
		payloads = append(payloads, payload)
		sizes = append(sizes, payload.Size)
	}

	limits := serverHandler.Workspace.Limits
	if err := limits.Check(lane.Queue.Len(), lane.Queue.TotalBytes(), sizes, !lane.Tool.AllowsMultipleInputs); err != nil {
		return jsonError(c, http.StatusRequestEntityTooLarge, err.Error())
	}

	lane.Select(payloads)
	Logger.Info("Files queued", "tool", lane.Tool.Kind, "count", len(payloads))
	return c.JSON(http.StatusOK, viewQueue(lane))
}

// RemoveFromQueue removes one file from a tool's queue. Unknown ids are ignored.
// @Summary Remove queued file
// @Tags Queue
// @Produce json
// @Param tool path string true "Tool kind"
// @Param id path string true "Item ID (ULID)"
// @Success 200 {object} queueView "Queue"
// @Router /tools/{tool}/queue/{id} [delete]
func (serverHandler *ServerHandler) RemoveFromQueue(c echo.Context) error {
	lane, err := serverHandler.lane(c)
	if lane == nil {
		return err
	}
	lane.Queue.Remove(c.Param("id"))
	return c.JSON(http.StatusOK, viewQueue(lane))
}

// GetPreview returns the thumbnail of a queued image
// @Summary Get preview thumbnail
// @Tags Queue
// @Produce png
// @Param tool path string true "Tool kind"
// @Param id path string true "Item ID (ULID)"
// @Success 200 {file} file "PNG thumbnail"
// @Failure 404 {object} map[string]interface{} "No preview"
// @Router /tools/{tool}/queue/{id}/preview [get]
func (serverHandler *ServerHandler) GetPreview(c echo.Context) error {
	lane, err := serverHandler.lane(c)
	if lane == nil {
		return err
	}
	item, ok := lane.Queue.Get(c.Param("id"))
	if !ok || !item.HasPreview() {
		return jsonError(c, http.StatusNotFound, "Preview not found")
	}
	data, err := item.Preview.Bytes()
	if err != nil {
		// the item may have been removed after the lookup
		return jsonError(c, http.StatusNotFound, "Preview not found")
	}
	return c.Blob(http.StatusOK, "image/png", data)
}

// zipStream starts a zip attachment on the first delivered result, so errors raised before
// any output can still be answered with a JSON status
type zipStream struct {
	c    echo.Context
	name string
	sink *delivery.ZipSink
}

func (z *zipStream) Deliver(ctx context.Context, result delivery.Result) error {
	if z.sink == nil {
		res := z.c.Response()
		res.Header().Set(echo.HeaderContentType, "application/zip")
		res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", z.name))
		res.WriteHeader(http.StatusOK)
		z.sink = delivery.NewZipSink(res)
	}
	if err := z.sink.Deliver(ctx, result); err != nil {
		return err
	}
	z.c.Response().Flush()
	return nil
}

func (z *zipStream) Close() error {
	if z.sink == nil {
		return nil
	}
	return z.sink.Close()
}

func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyQueue):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Execute runs a tool over its queue and returns the output as an attachment.
// PDF to Image streams a zip archive, one entry per page, as pages complete.
// @Summary Execute tool
// @Tags Tools
// @Produce octet-stream
// @Param tool path string true "Tool kind"
// @Success 200 {file} file "Converted output"
// @Success 204 "Nothing was produced"
// @Failure 400 {object} map[string]interface{} "Queue is empty"
// @Failure 409 {object} map[string]interface{} "Tool is already processing"
// @Failure 500 {object} map[string]interface{} "Processing failed"
// @Router /tools/{tool}/execute [post]
func (serverHandler *ServerHandler) Execute(c echo.Context) error {
	lane, err := serverHandler.lane(c)
	if lane == nil {
		return err
	}
	ctx := c.Request().Context()

	if lane.Tool.Kind == ToolPDFToImage {
		name := "pages.zip"
		if items := lane.Queue.Items(); len(items) > 0 {
			name = strings.TrimSuffix(PageImageName(items[0].Payload.Name, 1), "_page_1.jpg") + "_pages.zip"
		}
		stream := &zipStream{c: c, name: name}
		err := lane.Execute(ctx, stream)
		if stream.sink != nil {
			// headers are gone; a failure can only truncate the archive
			if cerr := stream.Close(); cerr != nil {
				Logger.Error("Unable to finish zip stream", "tool", lane.Tool.Kind, "error", cerr)
			}
			return nil
		}
		if err != nil {
			return jsonError(c, dispatchStatus(err), err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}

	var buffer delivery.Buffer
	if err := lane.Execute(ctx, &buffer); err != nil {
		return jsonError(c, dispatchStatus(err), err.Error())
	}
	results := buffer.Results()
	if len(results) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	result := results[0]
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", result.Filename))
	return c.Blob(http.StatusOK, result.MIMEType, result.Bytes)
}

// GetAboutInfo returns information about the application configuration
// @Summary Get application information
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Application information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	limits := serverHandler.Workspace.Limits
	maxBytes := "unlimited"
	if limits.MaxTotalBytes > 0 {
		maxBytes = humanize.Bytes(uint64(limits.MaxTotalBytes))
	}
	rendererReady := false
	if r := serverHandler.Workspace.Converter.Renderers; r != nil {
		rendererReady = r.Ready()
	}

	aboutInfo := map[string]interface{}{
		"version":       build.Version,
		"renderer":      serverHandler.ServerConfig.Renderer,
		"rendererReady": rendererReady,
		"outputDir":     serverHandler.ServerConfig.OutputDir,
		"maxQueueItems": limits.MaxItems,
		"maxQueueBytes": maxBytes,
		"tools":         len(serverHandler.Workspace.Lanes()),
	}
	return c.JSON(http.StatusOK, aboutInfo)
}
