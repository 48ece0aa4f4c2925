package ssdp

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	strs  map[string]string
	ints  map[string]int
	bools map[string]bool
}

func (f *fakeSettings) GetString(_ context.Context, path, def string) string {
	if v, ok := f.strs[path]; ok {
		return v
	}
	return def
}

func (f *fakeSettings) GetInt(_ context.Context, path string, def int) int {
	if v, ok := f.ints[path]; ok {
		return v
	}
	return def
}

func (f *fakeSettings) GetBool(_ context.Context, path string, def bool) bool {
	if v, ok := f.bools[path]; ok {
		return v
	}
	return def
}

type sentPacket struct {
	data string
	dst  net.Addr
}

type recordingWriter struct {
	sent []sentPacket
}

func (r *recordingWriter) WriteTo(b []byte, dst net.Addr) (int, error) {
	r.sent = append(r.sent, sentPacket{data: string(b), dst: dst})
	return len(b), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	settings := &fakeSettings{
		strs: map[string]string{
			"ssdp.deviceUuid":        "3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10",
			"ssdp.friendlyName":      "PlexBridge",
			"ssdp.modelName":         "HDTC-2US",
			"network.advertisedHost": "192.168.1.10",
		},
	}
	srv := NewServer(settings, 5004, nil)
	srv.refreshIdentity()
	return srv
}

func searcher() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 51000}
}

func msearch(st string) string {
	return "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + st + "\r\n" +
		"\r\n"
}

func TestSearchTarget(t *testing.T) {
	assert.Equal(t, "ssdp:all", searchTarget(msearch("ssdp:all")))
	assert.Equal(t, "upnp:rootdevice", searchTarget(msearch("upnp:rootdevice")))
	assert.Equal(t, "", searchTarget("M-SEARCH * HTTP/1.1\r\nMX: 2\r\n\r\n"))

	// header name matching is case-insensitive
	lower := "M-SEARCH * HTTP/1.1\r\nst: ssdp:all\r\n\r\n"
	assert.Equal(t, "ssdp:all", searchTarget(lower))
}

func TestAnswersTarget(t *testing.T) {
	uuid := "3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10"

	assert.True(t, answersTarget("ssdp:all", uuid))
	assert.True(t, answersTarget("upnp:rootdevice", uuid))
	assert.True(t, answersTarget("urn:schemas-upnp-org:device:MediaServer:1", uuid))
	assert.True(t, answersTarget("uuid:"+uuid, uuid))

	assert.False(t, answersTarget("uuid:someone-else", uuid))
	assert.False(t, answersTarget("urn:schemas-upnp-org:device:InternetGatewayDevice:1", uuid))
	assert.False(t, answersTarget("", uuid))
}

func TestSearchResponse_MediaServer(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.searchResponse("ssdp:all", searcher())
	require.NotEmpty(t, resp)

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "CACHE-CONTROL: max-age=300\r\n")
	assert.Contains(t, resp, "EXT:\r\n")
	assert.Contains(t, resp, "LOCATION: http://192.168.1.10:5004/device.xml\r\n")
	assert.Contains(t, resp, "ST: urn:schemas-upnp-org:device:MediaServer:1\r\n")
	assert.Contains(t, resp, "USN: uuid:3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10::urn:schemas-upnp-org:device:MediaServer:1\r\n")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\n"))
}

func TestSearchResponse_EchoesRootDevice(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.searchResponse("upnp:rootdevice", searcher())
	assert.Contains(t, resp, "ST: upnp:rootdevice\r\n")
	assert.Contains(t, resp, "USN: uuid:3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10::upnp:rootdevice\r\n")
}

func TestSearchResponse_WithoutIdentity(t *testing.T) {
	srv := NewServer(&fakeSettings{}, 5004, nil)
	srv.refreshIdentity()

	// no uuid and no advertised host: nothing to say
	assert.Empty(t, srv.searchResponse("ssdp:all", searcher()))
}

func TestHandleSearch(t *testing.T) {
	srv := newTestServer(t)

	t.Run("answers media server search", func(t *testing.T) {
		w := &recordingWriter{}
		srv.handleSearch(msearch("urn:schemas-upnp-org:device:MediaServer:1"), searcher(), w)

		require.Len(t, w.sent, 1)
		assert.Equal(t, searcher().String(), w.sent[0].dst.String())
		assert.Contains(t, w.sent[0].data, "LOCATION: http://192.168.1.10:5004/device.xml")
	})

	t.Run("ignores other device types", func(t *testing.T) {
		w := &recordingWriter{}
		srv.handleSearch(msearch("urn:schemas-upnp-org:device:WANDevice:1"), searcher(), w)
		assert.Empty(t, w.sent)
	})

	t.Run("ignores non-search datagrams", func(t *testing.T) {
		w := &recordingWriter{}
		srv.handleSearch("NOTIFY * HTTP/1.1\r\n\r\n", searcher(), w)
		assert.Empty(t, w.sent)
	})

	t.Run("answers uuid search for own uuid", func(t *testing.T) {
		w := &recordingWriter{}
		srv.handleSearch(msearch("uuid:3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10"), searcher(), w)

		require.Len(t, w.sent, 1)
		assert.Contains(t, w.sent[0].data, "ST: uuid:3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10\r\n")
		assert.Contains(t, w.sent[0].data, "USN: uuid:3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10\r\n")
	})
}

func TestNotify_AliveBurst(t *testing.T) {
	srv := newTestServer(t)
	w := &recordingWriter{}
	group := &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}

	srv.notify(w, group, "ssdp:alive")

	// three targets, each repeated
	require.Len(t, w.sent, 3*notifyRepeat)

	var nts []string
	for _, pkt := range w.sent {
		assert.True(t, strings.HasPrefix(pkt.data, "NOTIFY * HTTP/1.1\r\n"))
		assert.Contains(t, pkt.data, "HOST: 239.255.255.250:1900\r\n")
		assert.Contains(t, pkt.data, "NTS: ssdp:alive\r\n")
		assert.Contains(t, pkt.data, "LOCATION: http://192.168.1.10:5004/device.xml\r\n")
		for _, line := range strings.Split(pkt.data, "\r\n") {
			if strings.HasPrefix(line, "NT: ") {
				nts = append(nts, strings.TrimPrefix(line, "NT: "))
			}
		}
	}

	assert.Contains(t, nts, "upnp:rootdevice")
	assert.Contains(t, nts, "uuid:3f2c9c8e-8f33-4e51-9353-6dca4b8e4f10")
	assert.Contains(t, nts, "urn:schemas-upnp-org:device:MediaServer:1")
}

func TestNotify_Byebye(t *testing.T) {
	srv := newTestServer(t)
	w := &recordingWriter{}
	group := &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}

	srv.notify(w, group, "ssdp:byebye")

	require.NotEmpty(t, w.sent)
	for _, pkt := range w.sent {
		assert.Contains(t, pkt.data, "NTS: ssdp:byebye\r\n")
	}
}

func TestNotify_WithoutIdentityStaysQuiet(t *testing.T) {
	srv := NewServer(&fakeSettings{}, 5004, nil)
	srv.refreshIdentity()
	w := &recordingWriter{}

	srv.notify(w, &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}, "ssdp:alive")
	assert.Empty(t, w.sent)
}

func TestUpdateAdvertisedHost(t *testing.T) {
	srv := newTestServer(t)

	srv.UpdateAdvertisedHost("10.0.0.99")
	resp := srv.searchResponse("ssdp:all", searcher())
	assert.Contains(t, resp, "LOCATION: http://10.0.0.99:5004/device.xml\r\n")

	// clearing the override falls back to the configured host
	srv.UpdateAdvertisedHost("")
	resp = srv.searchResponse("ssdp:all", searcher())
	assert.Contains(t, resp, "LOCATION: http://192.168.1.10:5004/device.xml\r\n")
}
