// Package server exposes the latest pipeline result over a read-only HTTP
// API.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"tradechains/internal/chaindb"
	"tradechains/internal/report"
	"tradechains/internal/txn"
)

// Snapshot is one complete pipeline result.
type Snapshot struct {
	Transactions []txn.Record
	Chains       []report.ChainRow
	DB           *chaindb.DB
	GeneratedAt  time.Time
}

// Server serves the most recent snapshot. Snapshots are replaced wholesale,
// so requests never observe a half-updated result.
type Server struct {
	addr   string
	router *gin.Engine

	mu       sync.RWMutex
	snapshot *Snapshot
}

// New builds the server and its routes.
func New(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{addr: addr, router: router}
	router.GET("/healthz", s.handleHealth)
	api := router.Group("/api")
	api.GET("/chains", s.handleChains)
	api.GET("/chains/:id", s.handleChain)
	api.GET("/transactions", s.handleTransactions)
	return s
}

// SetSnapshot publishes a new pipeline result.
func (s *Server) SetSnapshot(snap *Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

func (s *Server) current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"generated_at": snap.GeneratedAt,
		"chains":       len(snap.Chains),
		"transactions": len(snap.Transactions),
	})
}

func (s *Server) handleChains(c *gin.Context) {
	snap := s.current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no result yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chains": snap.Chains})
}

func (s *Server) handleChain(c *gin.Context) {
	snap := s.current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no result yet"})
		return
	}
	id := c.Param("id")
	for _, row := range snap.Chains {
		if row.ChainID == id {
			resp := gin.H{"chain": row}
			if chain := snap.DB.Get(id); chain != nil {
				resp["record"] = chain
			}
			c.JSON(http.StatusOK, resp)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown chain " + id})
}

func (s *Server) handleTransactions(c *gin.Context) {
	snap := s.current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no result yet"})
		return
	}
	chainID := c.Query("chain")
	if chainID == "" {
		c.JSON(http.StatusOK, gin.H{"transactions": snap.Transactions})
		return
	}
	var filtered []txn.Record
	for _, rec := range snap.Transactions {
		if rec.ChainID == chainID {
			filtered = append(filtered, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": filtered})
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
