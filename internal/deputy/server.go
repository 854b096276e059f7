package deputy

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/posse-io/posse/internal/metrics"
	"github.com/posse-io/posse/internal/record"
	"github.com/posse-io/posse/internal/supervisor"
)

// Deputy exposes one host's Supervisor over HTTP. It is an explicit value
// handed to every route; there is no package-level instance.
//
// Endpoints:
//
//	GET  /health                  liveness + host stats
//	POST /process/add             register without starting
//	POST /process/start           register + start (register only when autostart=false)
//	POST /process/stop/:name      stop
//	POST /process/restart/:name   restart
//	POST /process/update/:name    replace spec, restart if live
//	POST /process/delete/:name    remove
//	GET  /process/:name           single snapshot
//	GET  /processes               all snapshots
//	GET  /metrics                 prometheus metrics
type Deputy struct {
	sup    *supervisor.Supervisor
	logger *slog.Logger
}

// New creates a Deputy around the supervisor.
func New(sup *supervisor.Supervisor, logger *slog.Logger) *Deputy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deputy{sup: sup, logger: logger}
}

// Handler returns the gin-powered http.Handler for the deputy surface.
func (d *Deputy) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/health", d.handleHealth)
	g.POST("/process/add", d.handleAdd)
	g.POST("/process/start", d.handleStart)
	g.POST("/process/stop/:name", d.handleStop)
	g.POST("/process/restart/:name", d.handleRestart)
	g.POST("/process/update/:name", d.handleUpdate)
	g.POST("/process/delete/:name", d.handleDelete)
	g.GET("/process/:name", d.handleInfo)
	g.GET("/processes", d.handleAll)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr serving this deputy.
func NewServer(addr string, d *Deputy) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// NewServerTLS is NewServer with a TLS listener.
func NewServerTLS(addr string, d *Deputy, tc *tls.Config) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server
}

type successResp struct {
	Status string `json:"status"`
}

type errorResp struct {
	Detail string `json:"detail"`
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, successResp{Status: "success"})
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, errorResp{Detail: msg})
}

func (d *Deputy) handleHealth(c *gin.Context) {
	stats, err := d.sup.SystemStats()
	if err != nil {
		d.logger.Warn("host stats unavailable", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"hostname":       d.sup.Hostname(),
		"cpu_percent":    stats.CPUPercent,
		"memory_percent": stats.MemoryPercent,
		"disk_percent":   stats.DiskPercent,
	})
}

func (d *Deputy) bindSpec(c *gin.Context) (record.Record, bool) {
	var t record.Transport
	if err := c.ShouldBindJSON(&t); err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return record.Record{}, false
	}
	if t.Name == "" {
		fail(c, http.StatusBadRequest, "name required")
		return record.Record{}, false
	}
	return record.FromTransport(t), true
}

func (d *Deputy) handleAdd(c *gin.Context) {
	spec, okSpec := d.bindSpec(c)
	if !okSpec {
		return
	}
	if err := d.sup.Add(spec); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c)
}

func (d *Deputy) handleStart(c *gin.Context) {
	spec, okSpec := d.bindSpec(c)
	if !okSpec {
		return
	}
	if !spec.Autostart {
		// Register only; the process starts later on explicit demand.
		if err := d.sup.Add(spec); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		ok(c)
		return
	}
	if err := d.sup.Start(spec); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c)
}

func (d *Deputy) handleStop(c *gin.Context) {
	if err := d.sup.Stop(c.Param("name")); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c)
}

func (d *Deputy) handleRestart(c *gin.Context) {
	if err := d.sup.Restart(c.Param("name")); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c)
}

func (d *Deputy) handleUpdate(c *gin.Context) {
	spec, okSpec := d.bindSpec(c)
	if !okSpec {
		return
	}
	if err := d.sup.Update(c.Param("name"), spec); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c)
}

func (d *Deputy) handleDelete(c *gin.Context) {
	if err := d.sup.Delete(c.Param("name")); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c)
}

func (d *Deputy) handleInfo(c *gin.Context) {
	rec, err := d.sup.Info(c.Param("name"))
	if err != nil {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, rec.ToTransport())
}

func (d *Deputy) handleAll(c *gin.Context) {
	recs := d.sup.All()
	out := make([]record.Transport, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToTransport())
	}
	c.JSON(http.StatusOK, out)
}
