package geo

import (
	"bufio"
	"errors"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gpsd reads position fixes from a gpsd daemon (JSON over TCP, usually
// 127.0.0.1:2947). gpsd has no notion of a permission dialog, so
// QueryPermission reports no query semantics and RequestOnce doubles as the
// interactive probe: if we can pull a report off the socket, access is granted.
type Gpsd struct {
	Addr string

	mutex   deadlock.Mutex
	nextID  int64
	watches map[int64]net.Conn
}

func NewGpsd() *Gpsd {
	return &Gpsd{
		Addr:    btcradar.MakeOrGetConfig().GetString("gpsdAddr"),
		watches: make(map[int64]net.Conn),
	}
}

func (g *Gpsd) QueryPermission() (string, bool) {
	return "", false
}

type tpvReport struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"`
	Time  string  `json:"time"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Eph   float64 `json:"eph"`
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
}

func (t *tpvReport) sample() btcradar.PositionSample {
	accuracy := t.Eph
	if accuracy == 0 && (t.Epx > 0 || t.Epy > 0) {
		//gpsd sometimes only reports per-axis error estimates
		if t.Epx > t.Epy {
			accuracy = t.Epx
		} else {
			accuracy = t.Epy
		}
	}
	captured := time.Now().Unix()
	if ts, err := time.Parse(time.RFC3339, t.Time); err == nil {
		captured = ts.Unix()
	}
	return btcradar.PositionSample{
		Latitude:  t.Lat,
		Longitude: t.Lon,
		Accuracy:  accuracy,
		Timestamp: captured,
	}
}

func (t *tpvReport) stale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	ts, err := time.Parse(time.RFC3339, t.Time)
	if err != nil {
		return false
	}
	return time.Since(ts) > maxAge
}

func dialAndWatch(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second*4)
	if err != nil {
		return nil, err
	}
	if _, err = conn.Write([]byte(`?WATCH={"enable":true,"json":true};` + "\n")); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (g *Gpsd) RequestOnce(opts WatchOptions) (btcradar.PositionSample, error) {
	conn, err := dialAndWatch(g.Addr)
	if err != nil {
		return btcradar.PositionSample{}, err
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(opts.Timeout))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" || report.Mode < 2 {
			continue
		}
		if report.stale(opts.MaximumAge) {
			continue
		}
		return report.sample(), nil
	}
	if err := scanner.Err(); err != nil {
		return btcradar.PositionSample{}, err
	}
	return btcradar.PositionSample{}, errors.New("gpsd closed the stream before producing a fix")
}

func (g *Gpsd) Watch(opts WatchOptions, onSample func(btcradar.PositionSample), onError func(error)) (int64, error) {
	conn, err := dialAndWatch(g.Addr)
	if err != nil {
		return 0, err
	}
	g.mutex.Lock()
	g.nextID++
	id := g.nextID
	g.watches[id] = conn
	g.mutex.Unlock()
	go func() {
		for {
			scanner := bufio.NewScanner(conn)
			for {
				conn.SetReadDeadline(time.Now().Add(opts.Timeout))
				if !scanner.Scan() {
					break
				}
				var report tpvReport
				if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
					continue
				}
				if report.Class != "TPV" || report.Mode < 2 {
					continue
				}
				if report.stale(opts.MaximumAge) {
					continue
				}
				onSample(report.sample())
			}
			g.mutex.Lock()
			_, live := g.watches[id]
			g.mutex.Unlock()
			if !live {
				return
			}
			//the stream died underneath us rather than being cleared
			err := scanner.Err()
			if err == nil {
				err = errors.New("gpsd closed the stream")
			}
			onError(err)
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				g.mutex.Lock()
				delete(g.watches, id)
				g.mutex.Unlock()
				return
			}
			//a missed per-sample deadline ends the connection, not the watch:
			//reconnect and keep streaming
			conn.Close()
			next, dialErr := dialAndWatch(g.Addr)
			if dialErr != nil {
				g.mutex.Lock()
				_, live := g.watches[id]
				delete(g.watches, id)
				g.mutex.Unlock()
				if live {
					onError(dialErr)
				}
				return
			}
			g.mutex.Lock()
			if _, live := g.watches[id]; !live {
				g.mutex.Unlock()
				next.Close()
				return
			}
			g.watches[id] = next
			g.mutex.Unlock()
			conn = next
		}
	}()
	return id, nil
}

func (g *Gpsd) Clear(id int64) {
	g.mutex.Lock()
	conn, ok := g.watches[id]
	delete(g.watches, id)
	g.mutex.Unlock()
	if ok {
		conn.Close()
	}
}
