package topology

import (
	"testing"

	"github.com/Kishor-9361/NET-sim/model"
)

func TestValidateFailureRanges(t *testing.T) {
	cases := []struct {
		name    string
		failure model.Failure
		wantErr bool
	}{
		{"loss zero", model.Failure{Kind: model.FailurePacketLoss, Iface: "eth0", Pct: 0}, false},
		{"loss full", model.Failure{Kind: model.FailurePacketLoss, Iface: "eth0", Pct: 100}, false},
		{"loss negative", model.Failure{Kind: model.FailurePacketLoss, Iface: "eth0", Pct: -1}, true},
		{"loss over", model.Failure{Kind: model.FailurePacketLoss, Iface: "eth0", Pct: 100.5}, true},
		{"latency zero", model.Failure{Kind: model.FailureLatency, Iface: "eth0", Ms: 0}, false},
		{"latency negative", model.Failure{Kind: model.FailureLatency, Iface: "eth0", Ms: -5}, true},
		{"bandwidth positive", model.Failure{Kind: model.FailureBandwidthLimit, Iface: "eth0", Mbps: 10}, false},
		{"bandwidth zero", model.Failure{Kind: model.FailureBandwidthLimit, Iface: "eth0", Mbps: 0}, true},
		{"iface down no params", model.Failure{Kind: model.FailureInterfaceDown, Iface: "eth0"}, false},
		{"block icmp no params", model.Failure{Kind: model.FailureBlockICMP}, false},
	}

	for _, tc := range cases {
		err := validateFailure(tc.failure)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected InvalidArgument, got nil", tc.name)
			continue
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if tc.wantErr && model.KindOf(err) != model.ErrInvalidArgument {
			t.Errorf("%s: kind = %v, want InvalidArgument", tc.name, model.KindOf(err))
		}
	}
}
