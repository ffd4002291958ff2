package daemon

import (
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/daqctl/internal/observability"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Subsystem describes one register subsystem for the admin API.
type Subsystem struct {
	Name      string           `json:"name"`
	RType     uint8            `json:"r_type"`
	Count     int              `json:"count"`
	Registers map[uint8]string `json:"registers"`
}

func subsystem(t raw.RType) Subsystem {
	return Subsystem{
		Name:      t.String(),
		RType:     uint8(t),
		Count:     raw.RegisterCount(t),
		Registers: raw.RegisterNames(t),
	}
}

func (s *Service) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.observeAdmin())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": "daqctld",
			"id":        s.cfg.ID,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		st := s.session.Status()
		code := http.StatusOK
		if !st.DnodeConnected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready": st.DnodeConnected,
			"state": st.State,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/session", func(c *gin.Context) {
		out := gin.H{"session": s.session.Status()}
		if ss, ok := s.sampleStats(); ok {
			out["sample"] = ss
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/registers", func(c *gin.Context) {
		subs := make([]Subsystem, 0, len(raw.RTypes))
		for _, t := range raw.RTypes {
			subs = append(subs, subsystem(t))
		}
		c.JSON(http.StatusOK, gin.H{"subsystems": subs})
	})

	r.GET("/registers/:rtype", func(c *gin.Context) {
		t, err := raw.ParseRType(c.Param("rtype"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, subsystem(t))
	})
	return r
}

// unmatchedRoute labels requests that hit no route, keeping raw paths out
// of metric labels.
const unmatchedRoute = "unmatched"

// observeAdmin logs and counts each admin request by route. Readiness
// probes and scrapes log at trace.
func (s *Service) observeAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		observability.RecordAdminRequest(s.cfg.ID, route, status, elapsed)

		event := s.log.Debug()
		switch {
		case route == "/ready" || route == "/metrics":
			event = s.log.Trace()
		case status >= 500:
			event = s.log.Error()
		case status >= 400:
			event = s.log.Warn()
		}
		st := s.session.Status()
		event.
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("session_state", st.State).
			Bool("dnode", st.DnodeConnected).
			Str("remote", c.ClientIP()).
			Msg("daemon.admin.request")
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
