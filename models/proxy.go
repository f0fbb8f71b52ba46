package models

// Proxy описывает SOCKS5-прокси, через который подключаются аккаунты.
type Proxy struct {
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
	Login    string `json:"login" yaml:"login"`
	Password string `json:"password" yaml:"password"`
}

// Enabled сообщает, задан ли прокси.
func (p *Proxy) Enabled() bool {
	return p != nil && p.IP != "" && p.Port > 0
}
