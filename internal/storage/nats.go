package storage

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lucambottino/ec2-price-collector/internal/config"
	nc "github.com/nats-io/nats.go"
)

// NATS is for publishing normalized ticks to NATS subjects so that
// downstream consumers can subscribe to the live stream.
type NATS struct {
	Basic *nc.Conn
	Cfg   *config.NATS
}

var natsStorage NATS

// InitNATS initializes NATS connection with configured values.
func InitNATS(cfg *config.NATS) (*NATS, error) {
	if natsStorage.Basic == nil {
		var opts []nc.Option
		opts = append(opts, nc.Timeout(time.Duration(cfg.ReqTimeoutSec)*time.Second))
		if cfg.Username != "" && cfg.Password != "" {
			opts = append(opts, nc.UserInfo(cfg.Username, cfg.Password))
		}
		basic, err := nc.Connect(strings.Join(cfg.Addresses, ","), opts...)
		if err != nil {
			return nil, err
		}
		natsStorage = NATS{
			Basic: basic,
			Cfg:   cfg,
		}
	}
	return &natsStorage, nil
}

// GetNATS returns already prepared NATS instance.
func GetNATS() *NATS {
	return &natsStorage
}

// CommitTicks publishes each input tick on subject
// <subject_base_name>.<exchange>.
func (n *NATS) CommitTicks(_ context.Context, data []Tick) error {
	for i := range data {
		tick := data[i]
		payload, err := jsoniter.Marshal(&tick)
		if err != nil {
			return err
		}
		if err := n.Basic.Publish(n.Cfg.SubjectBaseName+"."+tick.Exchange, payload); err != nil {
			return err
		}
	}
	return n.Basic.Flush()
}
