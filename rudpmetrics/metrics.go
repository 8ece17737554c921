// Package rudpmetrics exposes engine and channel statistics as
// Prometheus metrics. The per-channel gauges are implemented as a
// custom prometheus.Collector that walks the live channel map at scrape
// time, the same shape as the teacher pack's TCPInfoCollector
// (runZeroInc-sockstats/pkg/exporter): describe a fixed set of metric
// descriptors, then Collect iterates live state and emits one sample set
// per entry rather than keeping gauges updated eagerly.
package rudpmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/packetflow/rudp/channel"
	"github.com/packetflow/rudp/rudpmap"
)

// Counters holds the engine-wide counters that are cheapest to update
// eagerly, at the point an event occurs, rather than walking state at
// scrape time.
type Counters struct {
	PacketsSent          prometheus.Counter
	PacketsReceived      prometheus.Counter
	ChecksumFailures     prometheus.Counter
	Retransmits          prometheus.Counter
	ResetsInitiated      prometheus.Counter
	ResetsReceived       prometheus.Counter
	BackpressureSkips    prometheus.Counter
	ChannelsConnected    prometheus.Counter
	ChannelsDisconnected prometheus.Counter
	RTTMicros            prometheus.Histogram
}

// NewCounters registers and returns the counter set under prefix.
// RTTMicros uses exponential buckets from 100us (comfortably below a
// LAN round trip) to ~1.6s, matching the microsecond unit
// channel.Channel works in; longer samples fall into the +Inf bucket.
func NewCounters(reg prometheus.Registerer, prefix string) *Counters {
	c := &Counters{
		PacketsSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_packets_sent_total"}),
		PacketsReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_packets_received_total"}),
		ChecksumFailures:     prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_checksum_failures_total"}),
		Retransmits:          prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_retransmits_total"}),
		ResetsInitiated:      prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_resets_initiated_total"}),
		ResetsReceived:       prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_resets_received_total"}),
		BackpressureSkips:    prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_backpressure_skips_total"}),
		ChannelsConnected:    prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_channels_connected_total"}),
		ChannelsDisconnected: prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_channels_disconnected_total"}),
		RTTMicros: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_rtt_microseconds",
			Help:    "observed per-ack round-trip samples, in microseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 15),
		}),
	}
	reg.MustRegister(
		c.PacketsSent, c.PacketsReceived, c.ChecksumFailures,
		c.Retransmits, c.ResetsInitiated, c.ResetsReceived, c.BackpressureSkips,
		c.ChannelsConnected, c.ChannelsDisconnected, c.RTTMicros,
	)
	return c
}

// ChannelCollector walks a rudpmap.Map at scrape time and emits one
// gauge sample per live (addr, port, channel) entry.
type ChannelCollector struct {
	chans *rudpmap.Map

	triptimeMiddle *prometheus.Desc
	sendQueueLen   *prometheus.Desc
	writeQueueLen  *prometheus.Desc
	duplicateDrops *prometheus.Desc
	outrunDrops    *prometheus.Desc
}

// NewChannelCollector returns a collector over chans. Register it with a
// prometheus.Registerer the same way any other Collector is registered.
func NewChannelCollector(chans *rudpmap.Map, prefix string) *ChannelCollector {
	labels := []string{"addr", "port", "channel"}
	return &ChannelCollector{
		chans:          chans,
		triptimeMiddle: prometheus.NewDesc(prefix+"_triptime_middle_us", "smoothed RTT estimate in microseconds", labels, nil),
		sendQueueLen:   prometheus.NewDesc(prefix+"_send_queue_length", "outstanding unacknowledged packets", labels, nil),
		writeQueueLen:  prometheus.NewDesc(prefix+"_write_queue_length", "buffered egress writes", labels, nil),
		duplicateDrops: prometheus.NewDesc(prefix+"_duplicate_drops_total", "duplicate DATA packets dropped", labels, nil),
		outrunDrops:    prometheus.NewDesc(prefix+"_outrun_drops_total", "packets dropped due to receive outrun", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *ChannelCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.triptimeMiddle
	descs <- c.sendQueueLen
	descs <- c.writeQueueLen
	descs <- c.duplicateDrops
	descs <- c.outrunDrops
}

// Collect implements prometheus.Collector.
func (c *ChannelCollector) Collect(metrics chan<- prometheus.Metric) {
	c.chans.Each(func(_ string, ch *channel.Channel) {
		addr := ch.Key.Addr
		port := strconv.Itoa(ch.Key.Port)
		chNum := strconv.Itoa(int(ch.Key.Channel))

		metrics <- prometheus.MustNewConstMetric(c.triptimeMiddle, prometheus.GaugeValue, float64(ch.TriptimeMiddle()), addr, port, chNum)
		metrics <- prometheus.MustNewConstMetric(c.sendQueueLen, prometheus.GaugeValue, float64(ch.SendQueueLen()), addr, port, chNum)
		metrics <- prometheus.MustNewConstMetric(c.writeQueueLen, prometheus.GaugeValue, float64(ch.WriteQueueLen()), addr, port, chNum)
		metrics <- prometheus.MustNewConstMetric(c.duplicateDrops, prometheus.CounterValue, float64(ch.DuplicateDrops), addr, port, chNum)
		metrics <- prometheus.MustNewConstMetric(c.outrunDrops, prometheus.CounterValue, float64(ch.OutrunDrops), addr, port, chNum)
	})
}
