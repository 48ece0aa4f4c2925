// Package ssdp announces the tuner on the local network so Plex can find it
// without manual configuration. It joins the SSDP multicast group, answers
// M-SEARCH queries with unicast responses pointing at device.xml, sends
// periodic ssdp:alive NOTIFY bursts and a byebye burst on shutdown.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/plexbridge/plexbridge/internal/metrics"
	"github.com/plexbridge/plexbridge/internal/observability"
)

const (
	// defaultGroup is the SSDP well-known multicast group.
	defaultGroup = "239.255.255.250"
	// defaultPort is the SSDP well-known port.
	defaultPort = 1900
	// defaultAnnounceInterval separates periodic alive bursts.
	defaultAnnounceInterval = 30 * time.Minute
	// maxAge is the advertised validity of discovery responses.
	maxAge = 300
	// notifyRepeat is how many times each NOTIFY is sent per burst; SSDP
	// runs over UDP and duplicate NOTIFYs are expected by receivers.
	notifyRepeat = 2
)

// Search targets the responder answers. Anything else is ignored.
const (
	targetAll        = "ssdp:all"
	targetRootDevice = "upnp:rootdevice"
	targetMediaSrv   = "urn:schemas-upnp-org:device:MediaServer:1"
)

// ErrAlreadyRunning is returned by Start when the responder is active.
var ErrAlreadyRunning = errors.New("ssdp: already running")

// Settings is the subset of the settings service the responder reads.
type Settings interface {
	GetString(ctx context.Context, path string, def string) string
	GetInt(ctx context.Context, path string, def int) int
	GetBool(ctx context.Context, path string, def bool) bool
}

// device is the identity snapshot baked into responses. Rebuilt by
// RefreshDevice after settings changes.
type device struct {
	uuid         string
	serverHeader string
}

// packetWriter abstracts the multicast connection for tests.
type packetWriter interface {
	WriteTo(b []byte, dst net.Addr) (int, error)
}

// ipv4Writer adapts an ipv4.PacketConn to packetWriter.
type ipv4Writer struct {
	p *ipv4.PacketConn
}

func (w ipv4Writer) WriteTo(b []byte, dst net.Addr) (int, error) {
	n, err := w.p.WriteTo(b, nil, dst)
	return n, err
}

// Server joins the SSDP multicast group and speaks the discovery protocol
// on behalf of the emulated tuner.
type Server struct {
	log      *slog.Logger
	settings Settings
	port     int // HTTP port serving device.xml

	mu       sync.RWMutex
	dev      device
	override string // UpdateAdvertisedHost override, wins over settings
	host     string // effective advertised host, may be empty

	runMu  sync.Mutex
	cancel context.CancelFunc
	conn   net.PacketConn
	packet *ipv4.PacketConn
	group  *net.UDPAddr
	wg     sync.WaitGroup
}

// NewServer creates an SSDP responder. The HTTP port is where device.xml is
// served; the advertised host defaults to the interface address the packet
// arrived on when no override is configured.
func NewServer(settings Settings, httpPort int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:      observability.WithComponent(logger, "ssdp"),
		settings: settings,
		port:     httpPort,
	}
}

// Start joins the multicast group and begins answering searches and sending
// periodic announcements. It returns immediately; the responder runs until
// Stop. Disabled via settings, Start logs and returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	if !s.settings.GetBool(ctx, "ssdp.enabled", true) {
		s.log.Info("SSDP discovery disabled")
		return nil
	}

	s.refreshIdentity()

	groupIP := net.ParseIP(s.settings.GetString(ctx, "ssdp.multicastAddress", defaultGroup))
	if groupIP == nil {
		groupIP = net.ParseIP(defaultGroup)
	}
	port := s.settings.GetInt(ctx, "ssdp.port", defaultPort)

	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("ssdp: listening on :%d: %w", port, err)
	}

	packet := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: groupIP, Port: port}

	joined := s.joinGroup(packet, groupIP)
	if joined == 0 {
		s.log.Warn("SSDP joined no multicast interfaces, discovery limited to unicast",
			slog.String("group", groupIP.String()))
	}
	if err := packet.SetMulticastTTL(2); err != nil {
		s.log.Debug("Setting multicast TTL failed", slog.String("error", err.Error()))
	}
	_ = packet.SetMulticastLoopback(false)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.conn = conn
	s.packet = packet
	s.group = group

	s.wg.Add(2)
	go s.readLoop(runCtx)
	go s.announceLoop(runCtx)

	s.log.Info("SSDP discovery started",
		slog.String("group", group.String()),
		slog.Int("interfaces", joined))
	return nil
}

// Stop sends a byebye burst and tears the responder down. Safe to call when
// not running.
func (s *Server) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}

	s.notify(ipv4Writer{s.packet}, s.group, "ssdp:byebye")
	s.cancel()
	s.conn.Close()
	s.wg.Wait()

	s.cancel = nil
	s.conn = nil
	s.packet = nil
	s.group = nil
	s.log.Info("SSDP discovery stopped")
}

// Running reports whether the responder is active. False also covers the
// disabled-via-settings case.
func (s *Server) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

// UpdateAdvertisedHost overrides the host used in LOCATION headers. An empty
// host reverts to the configured advertised host, and failing that to the
// local interface facing each client.
func (s *Server) UpdateAdvertisedHost(host string) {
	s.mu.Lock()
	s.override = host
	s.mu.Unlock()
	s.RefreshDevice()
}

// RefreshDevice re-reads the device identity from settings and, when the
// responder is running, sends an immediate alive burst so receivers pick up
// the change without waiting for the next interval.
func (s *Server) RefreshDevice() {
	s.refreshIdentity()

	s.runMu.Lock()
	packet, group := s.packet, s.group
	s.runMu.Unlock()
	if packet != nil {
		s.notify(ipv4Writer{packet}, group, "ssdp:alive")
	}
}

// refreshIdentity rebuilds the cached identity snapshot from settings.
func (s *Server) refreshIdentity() {
	ctx := context.Background()

	dev := device{
		uuid:         s.settings.GetString(ctx, "ssdp.deviceUuid", ""),
		serverHeader: fmt.Sprintf("UPnP/1.0 %s/1.0", s.settings.GetString(ctx, "ssdp.modelName", "HDTC-2US")),
	}
	configured := s.settings.GetString(ctx, "network.advertisedHost", "")

	s.mu.Lock()
	s.dev = dev
	s.host = s.override
	if s.host == "" {
		s.host = configured
	}
	s.mu.Unlock()
}

// joinGroup joins the multicast group on every eligible interface and
// returns how many joins succeeded. Join failures on individual interfaces
// (down links, containers without multicast) are logged and skipped.
func (s *Server) joinGroup(packet *ipv4.PacketConn, groupIP net.IP) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		s.log.Warn("Listing interfaces failed", slog.String("error", err.Error()))
		return 0
	}

	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := packet.JoinGroup(ifi, &net.UDPAddr{IP: groupIP}); err != nil {
			s.log.Debug("Multicast join failed",
				slog.String("interface", ifi.Name),
				slog.String("error", err.Error()))
			continue
		}
		joined++
	}
	return joined
}

// readLoop answers M-SEARCH queries until the connection closes.
func (s *Server) readLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, _, src, err := s.packet.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("SSDP read error", slog.String("error", err.Error()))
			continue
		}
		s.handleSearch(string(buf[:n]), src, ipv4Writer{s.packet})
	}
}

// handleSearch answers a single M-SEARCH datagram when it targets us.
func (s *Server) handleSearch(msg string, src net.Addr, w packetWriter) {
	if !strings.HasPrefix(msg, "M-SEARCH") {
		return
	}
	st := searchTarget(msg)

	s.mu.RLock()
	uuid := s.dev.uuid
	s.mu.RUnlock()
	if !answersTarget(st, uuid) {
		return
	}

	resp := s.searchResponse(st, src)
	if resp == "" {
		return
	}
	if _, err := w.WriteTo([]byte(resp), src); err != nil {
		s.log.Debug("SSDP response write failed",
			slog.String("peer", src.String()),
			slog.String("error", err.Error()))
		return
	}
	metrics.SSDPSearches.Inc()
	s.log.Debug("Answered M-SEARCH",
		slog.String("peer", src.String()),
		slog.String("st", st))
}

// announceLoop sends periodic alive bursts at the configured interval.
func (s *Server) announceLoop(ctx context.Context) {
	defer s.wg.Done()

	// Initial burst so receivers learn about us before their first search.
	s.notify(ipv4Writer{s.packet}, s.group, "ssdp:alive")

	for {
		interval := time.Duration(s.settings.GetInt(ctx, "ssdp.announceInterval", 0)) * time.Second
		if interval <= 0 {
			interval = defaultAnnounceInterval
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.notify(ipv4Writer{s.packet}, s.group, "ssdp:alive")
		}
	}
}

// notify multicasts a NOTIFY burst for the root device, the device UUID and
// the MediaServer type.
func (s *Server) notify(w packetWriter, dst net.Addr, nts string) {
	s.mu.RLock()
	dev := s.dev
	location := s.locationFor(nil)
	s.mu.RUnlock()

	if dev.uuid == "" || location == "" || dst == nil {
		return
	}

	targets := []struct{ nt, usn string }{
		{targetRootDevice, "uuid:" + dev.uuid + "::" + targetRootDevice},
		{"uuid:" + dev.uuid, "uuid:" + dev.uuid},
		{targetMediaSrv, "uuid:" + dev.uuid + "::" + targetMediaSrv},
	}

	for _, tgt := range targets {
		msg := fmt.Sprintf(
			"NOTIFY * HTTP/1.1\r\n"+
				"HOST: %s\r\n"+
				"CACHE-CONTROL: max-age=%d\r\n"+
				"LOCATION: %s\r\n"+
				"NT: %s\r\n"+
				"NTS: %s\r\n"+
				"SERVER: %s\r\n"+
				"USN: %s\r\n"+
				"\r\n",
			dst.String(), maxAge, location, tgt.nt, nts, dev.serverHeader, tgt.usn)
		for i := 0; i < notifyRepeat; i++ {
			if _, err := w.WriteTo([]byte(msg), dst); err != nil {
				s.log.Debug("SSDP notify write failed", slog.String("error", err.Error()))
				return
			}
		}
		metrics.SSDPAnnouncements.Inc()
	}
}

// searchResponse builds the unicast reply for a search target. The reply
// echoes rootdevice and uuid targets; everything else answers as a
// MediaServer, which is what Plex searches for.
func (s *Server) searchResponse(st string, src net.Addr) string {
	s.mu.RLock()
	dev := s.dev
	location := s.locationFor(src)
	s.mu.RUnlock()

	if dev.uuid == "" || location == "" {
		return ""
	}

	respST := targetMediaSrv
	usn := "uuid:" + dev.uuid + "::" + targetMediaSrv
	switch st {
	case targetRootDevice:
		respST = targetRootDevice
		usn = "uuid:" + dev.uuid + "::" + targetRootDevice
	case "uuid:" + dev.uuid:
		respST = st
		usn = st
	}

	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=%d\r\n"+
			"EXT:\r\n"+
			"LOCATION: %s\r\n"+
			"SERVER: %s\r\n"+
			"ST: %s\r\n"+
			"USN: %s\r\n"+
			"\r\n",
		maxAge, location, dev.serverHeader, respST, usn)
}

// locationFor derives the device.xml URL. With an advertised host configured
// that host always wins; otherwise the source address of the search picks the
// local interface facing that client. Callers hold s.mu.
func (s *Server) locationFor(src net.Addr) string {
	host := s.host
	if host == "" && src != nil {
		if udp, ok := src.(*net.UDPAddr); ok {
			if local := localAddrFor(udp.IP); local != "" {
				host = local
			}
		}
	}
	if host == "" {
		return ""
	}
	return fmt.Sprintf("http://%s/device.xml", net.JoinHostPort(host, strconv.Itoa(s.port)))
}

// localAddrFor returns the local IP the kernel would route towards dst.
func localAddrFor(dst net.IP) string {
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "9"))
	if err != nil {
		return ""
	}
	defer conn.Close()
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return local.IP.String()
	}
	return ""
}

// searchTarget extracts the ST header from an M-SEARCH message.
func searchTarget(msg string) string {
	for _, line := range strings.Split(msg, "\r\n") {
		if len(line) > 3 && strings.EqualFold(line[:3], "ST:") {
			return strings.TrimSpace(line[3:])
		}
	}
	return ""
}

// answersTarget reports whether a search target addresses this device.
func answersTarget(st, uuid string) bool {
	switch {
	case st == targetAll, st == targetRootDevice, st == targetMediaSrv:
		return true
	case strings.HasPrefix(st, "urn:schemas-upnp-org:device:MediaServer"):
		return true
	case uuid != "" && st == "uuid:"+uuid:
		return true
	default:
		return false
	}
}
