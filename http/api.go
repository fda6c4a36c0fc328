package http

import (
	"net/http"

	"github.com/ndn-torrent/ntd/manager"
	"github.com/ndn-torrent/ntd/ndn"
	"go.sia.tech/jape"
	"go.uber.org/zap"
)

type apiServer struct {
	mgr *manager.Manager
	log *zap.Logger
}

func (as *apiServer) handleStatus(jc jape.Context) {
	jc.Encode(as.mgr.Status())
}

type peerResponse struct {
	Name          string `json:"name"`
	SentInterests uint64 `json:"sentInterests"`
	ReceivedData  uint64 `json:"receivedData"`
}

func (as *apiServer) handlePeers(jc jape.Context) {
	records := as.mgr.Peers()
	out := make([]peerResponse, 0, len(records))
	for _, r := range records {
		out = append(out, peerResponse{
			Name:          r.Name.String(),
			SentInterests: r.SentInterests,
			ReceivedData:  r.ReceivedData,
		})
	}
	jc.Encode(out)
}

func (as *apiServer) handleDownload(jc jape.Context) {
	as.mgr.DownloadAll(func(name ndn.Name, reason string) {
		as.log.Debug("download request failed", zap.Stringer("name", name), zap.String("reason", reason))
	})
}

// NewAPIHandler returns a new http.Handler that handles requests to the api
func NewAPIHandler(mgr *manager.Manager, log *zap.Logger) http.Handler {
	s := &apiServer{
		mgr: mgr,
		log: log,
	}
	return jape.Mux(map[string]jape.Handler{
		"GET /api/status":    s.handleStatus,
		"GET /api/peers":     s.handlePeers,
		"POST /api/download": s.handleDownload,
	})
}
