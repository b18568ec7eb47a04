package optimize

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"imgopt-server-go/internal/domain/stats"
	httptransport "imgopt-server-go/internal/transport/http"
)

func (s *Service) handleSystem(c *gin.Context) {
	data := gin.H{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		data["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		data["memory_percent"] = vm.UsedPercent
		data["memory_used_mb"] = vm.Used / 1024 / 1024
	}

	if total, err := s.counter.Total(c.Request.Context(), stats.CounterOptimizations); err == nil {
		data["optimizations_total"] = total
	}
	if regStats, err := s.registry.Stats(c.Request.Context()); err == nil {
		data["registry"] = regStats
	}

	httptransport.RespondSuccess(c, http.StatusOK, data, "")
}
