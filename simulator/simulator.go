package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/client"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

const simPassword = "simpass123"

type SimConfig struct {
	NumUsers       int
	SimulationTime time.Duration
	// MessageFrequency is messages per connected user per hour.
	MessageFrequency    float64
	ReadProbability     float64
	ReactionProbability float64
	MaxFriends          int
	DisconnectRate      float64
	ReconnectRate       float64
	ZipfS               float64
	AckTimeout          time.Duration
	EngineURL           string
}

type SimulationStats struct {
	mu              sync.RWMutex
	StartTime       time.Time
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	AverageLatency  time.Duration
	ActiveUsers     int
	MessagesSent    int
	MessagesAcked   int
	MessagesFailed  int
	Deliveries      int
	ReadReceipts    int
	Reactions       int
	Reconnects      int
	AckLatency      time.Duration
}

// SimulatedUser is one bot account and its live connection, if any.
type SimulatedUser struct {
	Session     *client.Session
	Conn        *client.Client
	Friends     []uuid.UUID
	IsConnected bool
	LastActive  time.Time
}

type Simulator struct {
	config SimConfig
	stats  *SimulationStats
	api    *client.API
	users  []*SimulatedUser
	mu     sync.RWMutex
	runID  string
	// rng is only used while building the friend graph.
	rng    *rand.Rand
}

func NewSimulator(config SimConfig) *Simulator {
	if config.AckTimeout <= 0 {
		config.AckTimeout = 5 * time.Second
	}
	if config.MaxFriends <= 0 {
		config.MaxFriends = 5
	}
	if config.ZipfS <= 1 {
		config.ZipfS = 1.07
	}
	return &Simulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		api:    client.NewAPI(config.EngineURL),
		runID:  uuid.NewString()[:8],
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Run(ctx context.Context) error {
	jww.INFO.Printf("Starting chat simulation...")

	if err := s.initialize(ctx); err != nil {
		return errors.Wrap(err, "initialization failed")
	}
	defer s.disconnectAll()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.SimulateActivities(ctx)
	}()
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()
	wg.Wait()
	return nil
}

func (s *Simulator) initialize(ctx context.Context) error {
	jww.INFO.Printf("Phase 1: Creating %d users...", s.config.NumUsers)
	if err := s.createInitialUsers(ctx); err != nil {
		return errors.Wrap(err, "failed to create initial users")
	}

	jww.INFO.Printf("Phase 2: Building the friend graph...")
	if err := s.buildFriendGraph(ctx); err != nil {
		return errors.Wrap(err, "failed to build friend graph")
	}

	jww.INFO.Printf("Phase 3: Connecting users...")
	for _, user := range s.users {
		if err := s.connect(ctx, user); err != nil {
			jww.WARN.Printf("User %s failed to connect: %v", user.Session.Username, err)
		}
	}
	return nil
}

func (s *Simulator) createInitialUsers(ctx context.Context) error {
	for i := 0; i < s.config.NumUsers; i++ {
		name := fmt.Sprintf("sim_%s_%d", s.runID, i)
		var session *client.Session
		err := s.timed(func() error {
			var err error
			session, err = s.api.Register(ctx, accounts.RegisterRequest{
				Username: name,
				Email:    name + "@sim.local",
				Password: simPassword,
			})
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "registering %s", name)
		}
		s.users = append(s.users, &SimulatedUser{Session: session, LastActive: time.Now()})
	}
	return nil
}

// buildFriendGraph gives each user a Zipf-distributed number of friends so
// a few users are very social and most have one or two.
func (s *Simulator) buildFriendGraph(ctx context.Context) error {
	if len(s.users) < 2 {
		return nil
	}
	max := s.config.MaxFriends
	if max > len(s.users)-1 {
		max = len(s.users) - 1
	}

	for i, user := range s.users {
		want := s.getZipfNumber(max)
		for attempts := 0; len(user.Friends) < want && attempts < want*3; attempts++ {
			j := rand.Intn(len(s.users))
			if j == i || contains(user.Friends, s.users[j].Session.UserID) {
				continue
			}
			if err := s.befriend(ctx, user, s.users[j]); err != nil {
				if utils.IsErrorCode(err, utils.ErrConflict) {
					continue
				}
				return err
			}
		}
	}

	counts := make(map[int]int)
	for _, user := range s.users {
		counts[len(user.Friends)]++
	}
	jww.INFO.Printf("Friend count distribution: %v", counts)
	return nil
}

func (s *Simulator) befriend(ctx context.Context, from, to *SimulatedUser) error {
	var request uuid.UUID
	err := s.timed(func() error {
		f, err := s.api.SendFriendRequest(ctx, from.Session, to.Session.Username)
		if err != nil {
			return err
		}
		request = f.ID
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.timed(func() error { return s.api.AcceptFriendRequest(ctx, to.Session, request) }); err != nil {
		return err
	}
	from.Friends = append(from.Friends, to.Session.UserID)
	to.Friends = append(to.Friends, from.Session.UserID)
	return nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (s *Simulator) getZipfNumber(max int) int {
	if max <= 1 {
		return 1
	}
	zipf := rand.NewZipf(s.rng, s.config.ZipfS, 1, uint64(max-1))
	return int(zipf.Uint64()) + 1
}

// connect dials the realtime channel and starts consuming its events.
func (s *Simulator) connect(ctx context.Context, user *SimulatedUser) error {
	var conn *client.Client
	err := s.timed(func() error {
		var err error
		conn, err = s.api.Connect(ctx, user.Session)
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	user.Conn = conn
	user.IsConnected = true
	user.LastActive = time.Now()
	s.mu.Unlock()

	s.stats.mu.Lock()
	s.stats.ActiveUsers++
	s.stats.mu.Unlock()

	go s.consumeEvents(ctx, user, conn)
	return nil
}

func (s *Simulator) disconnect(user *SimulatedUser) {
	s.mu.Lock()
	conn := user.Conn
	user.Conn = nil
	user.IsConnected = false
	s.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Close()

	s.stats.mu.Lock()
	s.stats.ActiveUsers--
	s.stats.mu.Unlock()
}

func (s *Simulator) disconnectAll() {
	for _, user := range s.users {
		s.disconnect(user)
	}
}

func (s *Simulator) simulateConnectivity(ctx context.Context) {
	jww.INFO.Printf("Starting connectivity simulation...")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, user := range s.users {
				s.mu.RLock()
				connected := user.IsConnected
				s.mu.RUnlock()

				if connected && rand.Float64() < s.config.DisconnectRate {
					s.disconnect(user)
				} else if !connected && rand.Float64() < s.config.ReconnectRate {
					if err := s.connect(ctx, user); err != nil {
						jww.WARN.Printf("Reconnect of %s failed: %v", user.Session.Username, err)
						continue
					}
					s.stats.mu.Lock()
					s.stats.Reconnects++
					s.stats.mu.Unlock()
				}
			}
		}
	}
}

// timed runs one request and records its latency and outcome.
func (s *Simulator) timed(fn func() error) error {
	start := time.Now()
	err := fn()
	s.recordRequestMetrics(start, err)
	return err
}

func (s *Simulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			jww.INFO.Printf("Simulation Metrics (%.1f seconds elapsed):", time.Since(s.stats.StartTime).Seconds())
			jww.INFO.Printf("- Request Rate: %.2f req/sec", m.RequestsPerSecond)
			jww.INFO.Printf("- Average Latency: %v (ack %v)", m.AverageLatency, m.AverageAckLatency)
			jww.INFO.Printf("- Active Users: %d/%d", m.ActiveUsers, m.TotalUsers)
			jww.INFO.Printf("- Messages: %d sent, %d acked, %d failed", m.MessagesSent, m.MessagesAcked, m.MessagesFailed)
			jww.INFO.Printf("- Receipts: %d delivered, %d read", m.Deliveries, m.ReadReceipts)
			jww.INFO.Printf("- Failed Requests: %d", m.ErrorCount)
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ActiveUsers       int
	MessagesSent      int
	MessagesAcked     int
	MessagesFailed    int
	Deliveries        int
	ReadReceipts      int
	Reactions         int
	Reconnects        int
	AverageLatency    time.Duration
	AverageAckLatency time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *Simulator) GetMetrics() SimulationMetrics {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        len(s.users),
		ActiveUsers:       s.stats.ActiveUsers,
		MessagesSent:      s.stats.MessagesSent,
		MessagesAcked:     s.stats.MessagesAcked,
		MessagesFailed:    s.stats.MessagesFailed,
		Deliveries:        s.stats.Deliveries,
		ReadReceipts:      s.stats.ReadReceipts,
		Reactions:         s.stats.Reactions,
		Reconnects:        s.stats.Reconnects,
		AverageLatency:    s.stats.AverageLatency,
		AverageAckLatency: s.stats.AckLatency,
		ErrorCount:        int(s.stats.FailedRequests) + s.stats.MessagesFailed,
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
