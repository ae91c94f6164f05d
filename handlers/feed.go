package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// UnitLister lists units with their positions
type UnitLister interface {
	ListUnits(ctx context.Context, availableOnly bool) ([]models.TrackedUnit, error)
}

// FeedHandler publishes live positions as a GTFS-Realtime VehiclePositions feed
type FeedHandler struct {
	repo    UnitLister
	now     func() time.Time
	timeout time.Duration
	log     log.Logger
}

// NewFeedHandler creates a new handler
func NewFeedHandler(repo UnitLister, timeout time.Duration, logger log.Logger) *FeedHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FeedHandler{repo: repo, now: time.Now, timeout: timeout, log: logger}
}

// GetFeed handles GET /api/bus/feed
// Returns protocol buffers, or the text format when text=true
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	units, err := h.repo.ListUnits(ctx, false)
	if err != nil {
		writeError(w, h.log, errs.Wrap(err, "failed to retrieve units"), nil)
		return
	}

	feed := BuildFeed(units, h.now())

	if strings.EqualFold(r.URL.Query().Get("text"), "true") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(prototext.MarshalOptions{Multiline: true}.Format(feed)))
		return
	}

	b, err := proto.Marshal(feed)
	if err != nil {
		writeError(w, h.log, errs.Wrap(err, "failed to encode feed"), nil)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Cache-Control", "public, max-age=5")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// BuildFeed converts every unit with a position into a VehiclePosition entity.
func BuildFeed(units []models.TrackedUnit, now time.Time) *gtfs.FeedMessage {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}

	for _, u := range units {
		if u.Position == nil {
			continue
		}
		vp := &gtfs.VehiclePosition{
			Vehicle: &gtfs.VehicleDescriptor{
				Id:    proto.String(u.UnitID),
				Label: proto.String(u.BusNumber),
			},
			Position: &gtfs.Position{
				Latitude:  proto.Float32(float32(u.Position.Latitude)),
				Longitude: proto.Float32(float32(u.Position.Longitude)),
			},
			Timestamp: proto.Uint64(uint64(u.Position.Timestamp.Unix())),
		}
		if u.RouteID != nil {
			vp.Trip = &gtfs.TripDescriptor{RouteId: proto.String(*u.RouteID)}
		}
		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id:      proto.String(u.UnitID),
			Vehicle: vp,
		})
	}
	return feed
}
