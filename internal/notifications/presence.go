package notifications

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"campfire/internal/middleware"
	"campfire/internal/models"
	"campfire/internal/repository"
)

const presenceRoomKeyNS = "presence:room:"

// PresenceTracker maintains the per-membership connection counters that
// decide whether a new message marks a room unread. The durable truth
// lives on the membership row; Redis mirrors a TTL-guarded roster so any
// instance can answer "who is in this room right now".
type PresenceTracker struct {
	db          *gorm.DB
	memberships repository.MembershipRepository
	rdb         *redis.Client
	ttl         time.Duration

	onOnline  func(roomID, userID uint)
	onOffline func(roomID, userID uint)
}

// NewPresenceTracker creates a tracker over the given stores. ttl bounds
// how long a stale heartbeat still counts as connected.
func NewPresenceTracker(db *gorm.DB, memberships repository.MembershipRepository, rdb *redis.Client, ttl time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = models.ConnectionTTL
	}
	return &PresenceTracker{
		db:          db,
		memberships: memberships,
		rdb:         rdb,
		ttl:         ttl,
	}
}

// SetCallbacks installs the online/offline edge handlers. They run after
// the row lock is released.
func (p *PresenceTracker) SetCallbacks(onOnline, onOffline func(roomID, userID uint)) {
	p.onOnline = onOnline
	p.onOffline = onOffline
}

// Connect records one more live connection for the membership. Returns
// whether this was the offline-to-online edge.
func (p *PresenceTracker) Connect(ctx context.Context, roomID, userID uint) (bool, error) {
	var cameOnline bool
	now := time.Now()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := p.memberships.WithTx(tx).GetForUpdate(ctx, roomID, userID)
		if err != nil {
			return err
		}
		cameOnline = !m.Connected(now, p.ttl)
		return tx.Model(&models.Membership{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{
				"connections":  gorm.Expr("connections + 1"),
				"connected_at": now,
			}).Error
	})
	if err != nil {
		return false, err
	}

	p.touch(ctx, roomID, userID)
	if cameOnline {
		middleware.PresenceTransitions.WithLabelValues("online").Inc()
		if p.onOnline != nil {
			p.onOnline(roomID, userID)
		}
	}
	return cameOnline, nil
}

// Disconnect drops one connection for the membership, clamping the
// counter at zero. Returns whether the member just went fully offline.
func (p *PresenceTracker) Disconnect(ctx context.Context, roomID, userID uint) (bool, error) {
	var wentOffline bool

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := p.memberships.WithTx(tx).GetForUpdate(ctx, roomID, userID)
		if err != nil {
			return err
		}
		next := m.Connections - 1
		if next < 0 {
			next = 0
		}
		wentOffline = m.Connections > 0 && next == 0
		values := map[string]interface{}{"connections": next}
		if next == 0 {
			values["connected_at"] = nil
		}
		return tx.Model(&models.Membership{}).
			Where("id = ?", m.ID).
			Updates(values).Error
	})
	if err != nil {
		return false, err
	}

	if wentOffline {
		p.forget(ctx, roomID, userID)
		middleware.PresenceTransitions.WithLabelValues("offline").Inc()
		if p.onOffline != nil {
			p.onOffline(roomID, userID)
		}
	}
	return wentOffline, nil
}

// Heartbeat refreshes the membership's connected_at stamp and the Redis
// roster TTL. Called on the websocket ping cadence.
func (p *PresenceTracker) Heartbeat(ctx context.Context, roomID, userID uint) error {
	err := p.db.WithContext(ctx).Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ? AND connections > 0", roomID, userID).
		Update("connected_at", time.Now()).Error
	if err != nil {
		return err
	}
	p.touch(ctx, roomID, userID)
	return nil
}

// Connected reports whether the member currently counts as present in
// the room, honoring the heartbeat TTL.
func (p *PresenceTracker) Connected(ctx context.Context, roomID, userID uint) (bool, error) {
	m, err := p.memberships.Get(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	return m.Connected(time.Now(), p.ttl), nil
}

// OnlineUserIDs returns the Redis-backed roster for a room, dropping
// entries whose heartbeat key has expired.
func (p *PresenceTracker) OnlineUserIDs(ctx context.Context, roomID uint) []uint {
	if p.rdb == nil {
		return nil
	}
	setKey := presenceRoomKeyNS + strconv.FormatUint(uint64(roomID), 10)
	members, err := p.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		middleware.RedisErrors.WithLabelValues("smembers").Inc()
		return nil
	}

	result := make([]uint, 0, len(members))
	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := p.rdb.Exists(ctx, p.heartbeatKey(roomID, userID)).Result()
		if existsErr != nil {
			continue
		}
		if exists == 0 {
			_ = p.rdb.SRem(ctx, setKey, raw).Err()
			continue
		}
		result = append(result, userID)
	}
	return result
}

func (p *PresenceTracker) touch(ctx context.Context, roomID, userID uint) {
	if p.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	setKey := presenceRoomKeyNS + strconv.FormatUint(uint64(roomID), 10)
	if err := p.rdb.SAdd(ctx, setKey, uid).Err(); err != nil {
		middleware.RedisErrors.WithLabelValues("sadd").Inc()
		log.Printf("presence touch SADD failed for user %d room %d: %v", userID, roomID, err)
	}
	if err := p.rdb.SetEx(ctx, p.heartbeatKey(roomID, userID), strconv.FormatInt(time.Now().Unix(), 10), p.ttl).Err(); err != nil {
		middleware.RedisErrors.WithLabelValues("setex").Inc()
		log.Printf("presence touch SETEX failed for user %d room %d: %v", userID, roomID, err)
	}
}

func (p *PresenceTracker) forget(ctx context.Context, roomID, userID uint) {
	if p.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	setKey := presenceRoomKeyNS + strconv.FormatUint(uint64(roomID), 10)
	_ = p.rdb.SRem(ctx, setKey, uid).Err()
	_ = p.rdb.Del(ctx, p.heartbeatKey(roomID, userID)).Err()
}

func (p *PresenceTracker) heartbeatKey(roomID, userID uint) string {
	return presenceRoomKeyNS + strconv.FormatUint(uint64(roomID), 10) +
		":user:" + strconv.FormatUint(uint64(userID), 10)
}
