package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/syncer"
)

// Handler turns sync coordinator notifications into dashboard messages.
// It implements syncer.Observer and bridges to the WebSocket server.
//
// Observer callbacks arrive from inside the coordinator's write path,
// so every method only updates counters and hands a message to the
// server's buffered broadcast channel.
type Handler struct {
	server *Server
	logger *log.Logger

	// Statistics tracking
	statsMu sync.Mutex
	stats   StatsData
}

var _ syncer.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}
	server.setStatsSource(h.GetStats)
	return h
}

// RecordUpserted handles record creation and update notifications
func (h *Handler) RecordUpserted(rec record.Record) {
	h.statsMu.Lock()
	h.stats.Records++
	h.statsMu.Unlock()

	h.broadcastData(MessageTypeRecordUpdate, RecordUpdateData{
		RecordID:   rec.ID,
		ZoneID:     rec.ZoneID,
		Action:     "upserted",
		Name:       rec.Name,
		ModifiedAt: rec.UserModifiedAt,
	})
}

// RecordRemoved handles record removal notifications
func (h *Handler) RecordRemoved(id, zoneID string) {
	h.statsMu.Lock()
	if h.stats.Records > 0 {
		h.stats.Records--
	}
	h.statsMu.Unlock()

	h.broadcastData(MessageTypeRecordUpdate, RecordUpdateData{
		RecordID: id,
		ZoneID:   zoneID,
		Action:   "removed",
	})
}

// ConflictResolved handles conflict resolution notifications
func (h *Handler) ConflictResolved(winner record.Record) {
	h.logger.Printf("Conflict resolved for %s: %q wins", winner.ID, winner.Name)

	h.statsMu.Lock()
	h.stats.Conflicts++
	h.statsMu.Unlock()

	h.broadcastData(MessageTypeConflict, ConflictData{
		RecordID:   winner.ID,
		ZoneID:     winner.ZoneID,
		WinnerName: winner.Name,
		ModifiedAt: winner.UserModifiedAt,
	})
}

// SendComplete handles send cycle completion notifications
func (h *Handler) SendComplete(res syncer.SendResult) {
	h.statsMu.Lock()
	h.stats.SendRounds++
	h.stats.Uploaded += res.Saved
	if res.Failed > 0 {
		h.stats.Errors += res.Failed
	}
	h.statsMu.Unlock()

	h.broadcastData(MessageTypeSendComplete, SendCompleteData{
		Saved:     res.Saved,
		Requeued:  res.Requeued,
		Remaining: res.Remaining,
		Failed:    res.Failed,
	})
	h.broadcastStats()
}

// FetchComplete handles fetch cycle completion notifications
func (h *Handler) FetchComplete(res syncer.FetchResult) {
	h.statsMu.Lock()
	h.stats.Downloaded += res.Applied + res.Removed
	h.statsMu.Unlock()

	h.broadcastData(MessageTypeFetchComplete, FetchCompleteData{
		Applied:      res.Applied,
		Removed:      res.Removed,
		ZonesRemoved: res.ZonesRemoved,
		Cursor:       string(res.Cursor),
	})
	h.broadcastStats()
}

// UpdateStats replaces the tracked statistics from coordinator state.
// Useful at startup, before any notifications have arrived.
func (h *Handler) UpdateStats(records, pending int, stats syncer.Stats) {
	h.statsMu.Lock()
	h.stats = StatsData{
		Records:    records,
		Pending:    pending,
		SendRounds: stats.SendRounds,
		Uploaded:   stats.Uploaded,
		Downloaded: stats.Downloaded,
		Conflicts:  stats.Conflicts,
		Errors:     stats.Errors,
	}
	h.statsMu.Unlock()

	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

// broadcastData marshals a payload and hands it to the server.
func (h *Handler) broadcastData(typ MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func (h *Handler) broadcastStats() {
	h.statsMu.Lock()
	stats := h.stats
	h.statsMu.Unlock()

	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
