package lib

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports the connection pool statistics of a table.
type PoolCollector struct {
	table *ConnTable

	total     *prometheus.Desc
	avail     *prometheus.Desc
	used      *prometheus.Desc
	usedMax   *prometheus.Desc
	allocated *prometheus.Desc
	freed     *prometheus.Desc
	getErrors *prometheus.Desc
	lists     *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

func NewPoolCollector(table *ConnTable) *PoolCollector {
	const ns, sub = "netconn", "pool"
	return &PoolCollector{
		table:     table,
		total:     prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "entries_total"), "Connection records in the table.", nil, nil),
		avail:     prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "entries_available"), "Connection records on the free stack.", nil, nil),
		used:      prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "entries_used"), "Connection records in use.", nil, nil),
		usedMax:   prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "entries_used_max"), "High water mark of connection records in use.", nil, nil),
		allocated: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "allocated_total"), "Connection records handed out.", nil, nil),
		freed:     prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "freed_total"), "Connection records returned to the pool.", nil, nil),
		getErrors: prometheus.NewDesc(prometheus.BuildFQName(ns, sub, "get_errors_total"), "Refused connection requests.", []string{"reason"}, nil),
		lists:     prometheus.NewDesc(prometheus.BuildFQName(ns, "list", "chains"), "Chains per connection list.", []string{"list"}, nil),
	}
}

func (p *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.total
	ch <- p.avail
	ch <- p.used
	ch <- p.usedMax
	ch <- p.allocated
	ch <- p.freed
	ch <- p.getErrors
	ch <- p.lists
}

func (p *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	p.table.Lock()
	stat := p.table.PoolStat()
	chains := make(map[ProtocolIndex]int, protocolIxMax)
	for ix := ProtocolIndex(0); ix < protocolIxMax; ix++ {
		if p.table.enabled[ix] {
			chains[ix] = len(p.table.ListOrder(ix))
		}
	}
	p.table.Unlock()

	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(stat.Total))
	ch <- prometheus.MustNewConstMetric(p.avail, prometheus.GaugeValue, float64(stat.Avail))
	ch <- prometheus.MustNewConstMetric(p.used, prometheus.GaugeValue, float64(stat.Used))
	ch <- prometheus.MustNewConstMetric(p.usedMax, prometheus.GaugeValue, float64(stat.UsedMax))
	ch <- prometheus.MustNewConstMetric(p.allocated, prometheus.CounterValue, float64(stat.AllocatedCtr))
	ch <- prometheus.MustNewConstMetric(p.freed, prometheus.CounterValue, float64(stat.FreedCtr))
	ch <- prometheus.MustNewConstMetric(p.getErrors, prometheus.CounterValue, float64(stat.NoneAvailCtr), "none_available")
	ch <- prometheus.MustNewConstMetric(p.getErrors, prometheus.CounterValue, float64(stat.InvalidCtr), "invalid")
	for ix, n := range chains {
		ch <- prometheus.MustNewConstMetric(p.lists, prometheus.GaugeValue, float64(n), ix.String())
	}
}
