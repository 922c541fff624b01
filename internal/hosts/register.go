package hosts

import (
	"time"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/throttle"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

// RegisterCommands wires every host handler onto the dispatcher. The bus
// receives step and byte progress keyed by attempt id.
func RegisterCommands(d *remote.Dispatcher, bus *remote.Bus) {
	weibo := newWeiboHost(HTTPClient, bus)
	d.Register(CommandWeiboUpload, weibo.upload)

	smms := newSMMSHost(HTTPClient, bus)
	d.Register(CommandSMMSUpload, smms.upload)
	d.Register(CommandSMMSCheck, smms.check)

	nowcoder := newNowcoderHost(HTTPClient, bus)
	d.Register(CommandNowcoderUpload, nowcoder.upload)

	jd := newJDHost(HTTPClient, bus)
	d.Register(CommandJDUpload, jd.upload)
	d.Register(CommandJDCheck, jd.check)

	github := newGithubHost(HTTPClient, bus)
	d.Register(CommandGithubUpload, github.upload)
	d.Register(CommandGithubCheck, github.check)

	s3 := newS3Host(bus)
	d.Register(CommandS3Upload, s3.upload)
	d.Register(CommandS3Check, s3.check)

	webdav := newWebDAVHost(HTTPClient, bus)
	d.Register(CommandWebDAVUpload, webdav.upload)
	d.Register(CommandWebDAVCheck, webdav.check)
}

// RegisterAdapters registers every known backend. Adapters for sections
// missing from cfg still register so the catalog can list them, their
// Validate rejects selection until the section is filled in.
func RegisterAdapters(reg *uploader.Registry, contract *uploader.Contract, cfg *config.BackendsConfig) {
	if cfg == nil {
		cfg = &config.BackendsConfig{}
	}
	reg.Register(config.BackendWeibo, func() (uploader.Adapter, error) {
		return NewWeiboAdapter(cfg.Weibo, contract), nil
	})
	reg.Register(config.BackendSMMS, func() (uploader.Adapter, error) {
		return NewSMMSAdapter(cfg.SMMS, contract), nil
	})
	reg.Register(config.BackendNowcoder, func() (uploader.Adapter, error) {
		return NewNowcoderAdapter(cfg.Nowcoder, contract), nil
	})
	reg.Register(config.BackendJD, func() (uploader.Adapter, error) {
		return NewJDAdapter(cfg.JD, contract), nil
	})
	reg.Register(config.BackendGithub, func() (uploader.Adapter, error) {
		return NewGithubAdapter(cfg.Github, contract), nil
	})
	reg.Register(config.BackendS3, func() (uploader.Adapter, error) {
		return NewS3Adapter(cfg.S3, contract), nil
	})
	reg.Register(config.BackendWebDAV, func() (uploader.Adapter, error) {
		return NewWebDAVAdapter(cfg.WebDAV, contract), nil
	})
}

// BuildGates returns the pacing gates for backends that need them. Gates
// exist even when the backend section is absent so a later config reload
// cannot race an in-flight upload against a missing gate.
func BuildGates(cfg *config.BackendsConfig) map[string]throttle.Gate {
	weiboInterval := config.DefaultWeiboIntervalMs
	if cfg != nil && cfg.Weibo != nil {
		weiboInterval = cfg.Weibo.IntervalMs()
	}
	batchLimit, cooldownMs := config.DefaultNowcoderBatchLimit, config.DefaultNowcoderCooldownMs
	if cfg != nil && cfg.Nowcoder != nil {
		batchLimit, cooldownMs = cfg.Nowcoder.BatchSettings()
	}

	return map[string]throttle.Gate{
		config.BackendWeibo: throttle.NewIntervalGate(config.BackendWeibo, throttle.IntervalConfig{
			MinInterval: time.Duration(weiboInterval) * time.Millisecond,
		}),
		config.BackendNowcoder: throttle.NewBatchGate(
			config.BackendNowcoder,
			batchLimit,
			time.Duration(cooldownMs)*time.Millisecond,
		),
	}
}
