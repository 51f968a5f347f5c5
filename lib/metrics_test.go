package lib

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCollector(t *testing.T) {
	table := newTestTable(t, 2)
	addConn(t, table, ProtocolIxIPv4TCP, "10.0.0.1:80", "")
	addConn(t, table, ProtocolIxIPv4TCP, "10.0.0.1:81", "")
	_, err := table.Get(FamilyIPv4Sock, ProtocolIxIPv4TCP)
	require.ErrorIs(t, err, ErrNoneAvailable)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewPoolCollector(table)))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string][]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				got[mf.GetName()] = append(got[mf.GetName()], m.GetGauge().GetValue())
			case m.GetCounter() != nil:
				got[mf.GetName()] = append(got[mf.GetName()], m.GetCounter().GetValue())
			}
		}
	}

	assert.Equal(t, []float64{2}, got["netconn_pool_entries_total"])
	assert.Equal(t, []float64{0}, got["netconn_pool_entries_available"])
	assert.Equal(t, []float64{2}, got["netconn_pool_entries_used"])
	assert.Equal(t, []float64{2}, got["netconn_pool_allocated_total"])
	assert.ElementsMatch(t, []float64{1, 0}, got["netconn_pool_get_errors_total"])
	assert.Len(t, got["netconn_list_chains"], int(protocolIxMax))
	assert.ElementsMatch(t, []float64{0, 2, 0, 0}, got["netconn_list_chains"])
}
