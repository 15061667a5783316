package main

// ServiceName names the service in page titles.
func (s *Server) ServiceName() string { return serviceName }

// HTTPPort returns the HTTP port in use.
func (s *Server) HTTPPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpPort
}

// PanelConfig is the configuration object the panel sends when the console
// socket opens.
func (s *Server) PanelConfig() interface{} { return s.opts.Config }
