package health

import (
	"context"
	"encoding/json"
	"runtime"
	"strconv"
	"time"

	"smartfolio-backend/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// DBPinger is optional for health check. If nil, database is reported as disconnected.
type DBPinger interface {
	Ping() error
}

// Probe checks one upstream (price feed, narrative provider). A nil error means reachable.
type Probe func(ctx context.Context) error

const probeTimeout = 3 * time.Second

// CollectResult is the /health/json payload.
type CollectResult struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Traffic      TrafficInfo          `json:"traffic"`
	Dependencies map[string]DepStatus `json:"dependencies"`
}

type RuntimeInfo struct {
	UptimeSeconds int64      `json:"uptimeSeconds"`
	Memory        MemoryInfo `json:"memory"`
	Goroutines    int        `json:"goroutines"`
	Platform      string     `json:"platform"`
	GoVersion     string     `json:"goVersion"`
}

type MemoryInfo struct {
	AllocMB  int `json:"allocMb"`
	HeapInMB int `json:"heapInUseMb"`
}

type TrafficInfo struct {
	TotalRequests   int         `json:"totalRequests"`
	SuccessCount    int         `json:"successCount"`
	FailedCount     int         `json:"failedCount"`
	SuccessRate     string      `json:"successRate"`
	AvgResponseTime interface{} `json:"avgResponseTime"`
	LastRequest     interface{} `json:"lastRequest"`
}

type DepStatus struct {
	Status string      `json:"status"`
	PingMs interface{} `json:"pingMs"`
}

func timed(fn func() error) (*int64, error) {
	start := time.Now()
	if err := fn(); err != nil {
		return nil, err
	}
	ms := time.Since(start).Milliseconds()
	return &ms, nil
}

// CollectHealth gathers database and Redis status, request stats kept by HealthMarker, and the
// result of each upstream probe. Status is "ok" only when both stores answer; probes are
// informational since upstream failures degrade rather than fail requests.
func CollectHealth(ctx context.Context, rdb *redis.Client, db DBPinger, probes map[string]Probe) CollectResult {
	result := CollectResult{
		Dependencies: make(map[string]DepStatus),
	}

	dbStatus := "disconnected"
	var dbPingMs *int64
	if db != nil {
		ms, err := timed(db.Ping)
		if err == nil {
			dbStatus, dbPingMs = "connected", ms
		} else {
			dbStatus = "error"
		}
	}
	result.Dependencies["database"] = DepStatus{Status: dbStatus, PingMs: dbPingMs}

	redisStatus := "disconnected"
	var redisPingMs *int64
	stats := TrafficInfo{AvgResponseTime: 0, SuccessRate: "100"}
	startTimeMs := time.Now().UnixMilli()

	if rdb != nil {
		ms, err := timed(func() error { return rdb.Ping(ctx).Err() })
		if err == nil {
			redisStatus, redisPingMs = "connected", ms

			vals, _ := rdb.MGet(ctx,
				middleware.KeyReqTotal, middleware.KeyReqErrors, middleware.KeyResTime,
				middleware.KeyResCount, middleware.KeyStartTime, middleware.KeyLastReq,
			).Result()
			str := func(i int) string {
				if i < len(vals) {
					if s, ok := vals[i].(string); ok {
						return s
					}
				}
				return ""
			}

			if t, err := strconv.ParseInt(str(4), 10, 64); err == nil {
				startTimeMs = t
			} else {
				rdb.Set(ctx, middleware.KeyStartTime, startTimeMs, 0)
			}

			stats.TotalRequests, _ = strconv.Atoi(str(0))
			stats.FailedCount, _ = strconv.Atoi(str(1))
			stats.SuccessCount = stats.TotalRequests - stats.FailedCount
			if stats.TotalRequests > 0 {
				stats.SuccessRate = strconv.FormatFloat(float64(stats.SuccessCount)/float64(stats.TotalRequests)*100, 'f', 1, 64)
			}
			timeSum, _ := strconv.ParseFloat(str(2), 64)
			countSum, _ := strconv.Atoi(str(3))
			if countSum > 0 {
				stats.AvgResponseTime = strconv.FormatFloat(timeSum/float64(countSum), 'f', 2, 64)
			}
			if last := str(5); last != "" {
				var lastReq map[string]interface{}
				_ = json.Unmarshal([]byte(last), &lastReq)
				stats.LastRequest = lastReq
			}
		} else {
			redisStatus = "error"
		}
	}
	result.Dependencies["redis"] = DepStatus{Status: redisStatus, PingMs: redisPingMs}
	result.Traffic = stats

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptimeSec := (time.Now().UnixMilli() - startTimeMs) / 1000
	if uptimeSec < 0 {
		uptimeSec = 0
	}
	result.Runtime = RuntimeInfo{
		UptimeSeconds: uptimeSec,
		Memory:        MemoryInfo{AllocMB: int(m.Alloc / 1024 / 1024), HeapInMB: int(m.HeapInuse / 1024 / 1024)},
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + " (" + runtime.GOARCH + ")",
		GoVersion:     runtime.Version(),
	}

	for name, probe := range probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		ms, err := timed(func() error { return probe(pctx) })
		cancel()
		if err != nil {
			result.Dependencies[name] = DepStatus{Status: "unreachable"}
			continue
		}
		result.Dependencies[name] = DepStatus{Status: "reachable", PingMs: ms}
	}

	if dbStatus == "connected" && redisStatus == "connected" {
		result.Status = "ok"
	} else {
		result.Status = "issue"
	}
	return result
}
