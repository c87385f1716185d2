package recompute

// worker decodes one request at a time. The controller never sends a request while
// another is in flight, so the request channel never holds more than one value.
func (c *Controller) worker() {
	defer c.wg.Done()
	for req := range c.requests {
		events, err := c.opts.Decode(req.Tensors, req.Params)
		select {
		case c.results <- Result{Seq: req.Seq, Notes: events, Err: err}:
		case <-c.done:
			return
		}
	}
}
