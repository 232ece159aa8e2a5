package api

import "go.uber.org/zap"

// The backend issues bearer tokens through its web login flow; the client
// only carries one, taken from configuration or set at runtime.

func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()

	if token == "" {
		c.logger.Debug("token cleared")
		return
	}
	c.logger.Debug("token updated", zap.String("prefix", token[:min(len(token), 6)]))
}

func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) IsAuthenticated() bool {
	return c.Token() != ""
}
