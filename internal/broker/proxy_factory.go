package broker

import (
	"github.com/tbharthur/agentboard/internal/proxy"
	"github.com/tbharthur/agentboard/internal/tmux"
)

// proxyFactory builds the per-attachment terminal proxy for a target. The
// broker always uses the direct-attach variant (§4.11): one PTY per
// connection is a simpler, sufficient match for a single-pane attach, and
// avoids needing a paneID up front the way control mode does. The
// control-mode variant remains available on internal/proxy for a consumer
// that needs its structural notifications; the broker's wire protocol has no
// such need (§6's message set carries no window-add/renamed events coming
// from the proxy itself — those flow from the registry instead).
type proxyFactory func(target string, onData proxy.OnData, onExit proxy.OnExit) proxy.Proxy

func defaultProxyFactory(driver *tmux.Driver) proxyFactory {
	return func(target string, onData proxy.OnData, onExit proxy.OnExit) proxy.Proxy {
		return proxy.NewDirect(target, driver, onData, onExit)
	}
}
