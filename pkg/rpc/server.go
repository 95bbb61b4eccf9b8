package rpc

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/chain"
	"github.com/zecwire/zecd/pkg/checkpoint"
)

// BlockReader is the read side of pkg/store.Store the RPC server needs.
type BlockReader interface {
	GetByHeight(ctx context.Context, height chain.Height) (*chain.Block, error)
	Latest(ctx context.Context) (*chain.Block, error)
}

// Server is zecd's HTTP surface: a gin engine serving confirmed-block
// reads straight from the store, and block submission through the
// checkpoint verifier's Ready/Call contract.
type Server struct {
	engine   *gin.Engine
	verifier *checkpoint.Verifier
	store    BlockReader
	indexer  *Indexer
	log      *logger.Logger
	limiter  *rate.Limiter
}

// NewServer builds a Server. limitPerSecond/burst bound the submission
// endpoint; reads are unthrottled.
func NewServer(verifier *checkpoint.Verifier, store BlockReader, indexer *Indexer, log *logger.Logger, limitPerSecond float64, burst int) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   gin.New(),
		verifier: verifier,
		store:    store,
		indexer:  indexer,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(limitPerSecond), burst),
	}
	s.routes()
	return s
}

// Handler returns the underlying http.Handler, for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())
	s.engine.GET("/blocks/latest", s.handleLatestBlock)
	s.engine.GET("/blocks/:height", s.handleGetBlock)
	s.engine.POST("/blocks", s.rateLimited(s.handleSubmitBlock))
	s.engine.GET("/status", s.handleStatus)
	if s.indexer != nil {
		s.engine.GET("/indexer/tip", gin.WrapF(s.indexer.ServeHTTP))
	}
}

func (s *Server) rateLimited(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			c.Abort()
			return
		}
		next(c)
	}
}

func (s *Server) handleLatestBlock(c *gin.Context) {
	block, err := s.store.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no blocks stored", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, blockView(block))
}

func (s *Server) handleGetBlock(c *gin.Context) {
	height, ok := parseHeight(c.Param("height"))
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid height"})
		return
	}

	block, err := s.store.GetByHeight(c.Request.Context(), height)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "block not found", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, blockView(block))
}

func (s *Server) handleStatus(c *gin.Context) {
	progress := s.verifier.PreviousCheckpointHeight()
	target := s.verifier.TargetCheckpointHeight()

	resp := gin.H{
		"progress":       progress.String(),
		"target":         target.String(),
		"max_checkpoint": s.verifier.CheckpointListMaxHeight(),
	}
	c.JSON(http.StatusOK, resp)
}

// blockSubmission is the wire shape accepted by POST /blocks.
type blockSubmission struct {
	Height            uint32   `json:"height" binding:"required"`
	PreviousBlockHash string   `json:"previous_block_hash" binding:"required"`
	Transactions      []string `json:"transactions"`
}

func (s *Server) handleSubmitBlock(c *gin.Context) {
	var req blockSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	prevHash, err := parseHash(req.PreviousBlockHash)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid previous_block_hash", Details: err.Error()})
		return
	}

	txs := make([]chain.Hash, 0, len(req.Transactions))
	for _, hx := range req.Transactions {
		h, err := parseHash(hx)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid transaction hash", Details: err.Error()})
			return
		}
		txs = append(txs, h)
	}

	block := chain.NewBlock(chain.Height(req.Height), prevHash, txs)
	block.Finalize()

	token, err := s.verifier.Ready()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "verifier not ready", Details: err.Error()})
		return
	}

	handle := s.verifier.Call(token, block)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	hash, err := handle.Wait(ctx)
	if err != nil {
		c.JSON(http.StatusOK, NewRejectedTransaction(chain.HashOf(block), err.Error()))
		return
	}
	c.JSON(http.StatusOK, TransactionObject{Hash: hashHex(hash), Height: req.Height})
}

type blockResponse struct {
	Height            uint32 `json:"height"`
	Hash              string `json:"hash"`
	PreviousBlockHash string `json:"previous_block_hash"`
	MerkleRoot        string `json:"merkle_root"`
	TxCount           int    `json:"tx_count"`
}

func blockView(b *chain.Block) blockResponse {
	return blockResponse{
		Height:            uint32(b.Header.Height),
		Hash:              hashHex(chain.HashOf(b)),
		PreviousBlockHash: hashHex(b.Header.PreviousBlockHash),
		MerkleRoot:        hashHex(b.Header.MerkleRoot),
		TxCount:           len(b.Transactions),
	}
}

func parseHeight(s string) (chain.Height, bool) {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + uint64(r-'0')
	}
	if len(s) == 0 {
		return 0, false
	}
	return chain.Height(n), true
}

func parseHash(s string) (chain.Hash, error) {
	var h chain.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], raw)
	return h, nil
}
