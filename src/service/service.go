package service

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mosaicnetworks/hub/src/common"
	"github.com/mosaicnetworks/hub/src/message"
	"github.com/mosaicnetworks/hub/src/node"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// maxSubmitBytes caps the size of a submitted message.
const maxSubmitBytes = 64 * 1024

// Service exposes the state of a hub over HTTP, and accepts messages from
// clients.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the service's own mux, so
// that several hubs can run in the same process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Hub API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/snapshot", s.makeHandler(s.GetSnapshot))
	s.mux.HandleFunc("/metadata", s.makeHandler(s.GetMetadata))
	s.mux.HandleFunc("/keys", s.makeHandler(s.GetKeys))
	s.mux.HandleFunc("/exists/", s.makeHandler(s.GetExists))
	s.mux.HandleFunc("/messages/", s.makeHandler(s.GetMessages))
	s.mux.HandleFunc("/submit", s.makeHandler(s.Submit))
	s.mux.HandleFunc("/rebuild", s.makeHandler(s.Rebuild))
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the http.Handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Hub API")

	s.Lock()
	s.server = &http.Server{Addr: s.bindAddress, Handler: s.mux}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Close stops the HTTP server started by Serve.
func (s *Service) Close() error {
	s.Lock()
	server := s.server
	s.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(context.Background())
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	returnJSON(w, s.node.GetStats())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnJSON(w, s.node.GetPeers())
}

// GetSnapshot returns the snapshot of the sync trie along the prefix query
// parameter. Without prefix, it returns the snapshot exchanged with peers at
// the start of a reconciliation.
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.URL.Query()["prefix"]; !ok {
		snapshot, err := s.node.GetCurrentSnapshot()
		if err != nil {
			s.logger.WithError(err).Error("Taking snapshot")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		returnJSON(w, snapshot)
		return
	}

	prefix, err := parsePrefix(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	returnJSON(w, s.node.GetSnapshot(prefix))
}

// GetMetadata ...
func (s *Service) GetMetadata(w http.ResponseWriter, r *http.Request) {
	prefix, err := parsePrefix(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	returnJSON(w, s.node.GetMetadata(prefix))
}

// GetKeys lists the keys under prefix, hex encoded.
func (s *Service) GetKeys(w http.ResponseWriter, r *http.Request) {
	prefix, err := parsePrefix(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	keys := s.node.GetKeys(prefix)

	res := make([]string, len(keys))
	for i, k := range keys {
		res[i] = common.EncodeToString(k)
	}

	returnJSON(w, res)
}

// GetExists reports whether the hex encoded sync key in the path is in the
// sync trie.
func (s *Service) GetExists(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/exists/"):]

	raw, err := common.DecodeFromString(param)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := message.SyncKey(raw)
	if err := key.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	returnJSON(w, map[string]bool{"exists": s.node.Exists(key)})
}

// GetMessages returns the current messages of the fid in the path.
func (s *Service) GetMessages(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/messages/"):]

	fid, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing fid parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgs, err := s.node.GetMessagesByFid(fid)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving messages of fid %d", fid)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	enc := codec.NewEncoder(w, jsonHandle())
	if err := enc.Encode(msgs); err != nil {
		s.logger.WithError(err).Error("Encoding messages")
	}
}

// Submit merges the message in the request body.
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var m message.Message
	if err := m.Unmarshal(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.node.SubmitMessage(&m)
	if err != nil {
		if common.IsHubErr(err, common.Structural) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			s.logger.WithError(err).Error("Submitting message")
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	returnJSON(w, map[string]string{
		"hash":   m.HashHex(),
		"result": res.String(),
	})
}

// Rebuild asks the node to reload its sync trie from the store.
func (s *Service) Rebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	s.node.Rebuild()

	w.WriteHeader(http.StatusAccepted)
}

// parsePrefix reads the prefix query parameter. A prefix starting with 0X is
// hex encoded, anything else is taken as is.
func parsePrefix(r *http.Request) ([]byte, error) {
	param := r.URL.Query().Get("prefix")

	var prefix []byte
	if strings.HasPrefix(param, "0X") || strings.HasPrefix(param, "0x") {
		raw, err := common.DecodeFromString(param)
		if err != nil {
			return nil, err
		}
		prefix = raw
	} else {
		prefix = []byte(param)
	}

	if len(prefix) > message.SyncKeyLength {
		return nil, common.NewHubErr(common.Structural,
			"prefix of %d bytes is longer than a sync key", len(prefix))
	}

	return prefix, nil
}

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

func returnJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	encoder.Encode(v)
}
