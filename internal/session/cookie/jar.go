package cookie

import (
	"net/http"
	"time"
)

// Jar reads and writes the session cookie. Cookies are always HttpOnly and
// SameSite=Strict; Secure is only dropped for local plain-HTTP development.
type Jar struct {
	Name     string
	Domain   string
	Path     string
	Insecure bool
	now      func() time.Time
}

func NewJar(name, domain string, insecure bool) *Jar {
	if name == "" {
		name = "portal_session"
	}
	return &Jar{Name: name, Domain: domain, Path: "/", Insecure: insecure, now: time.Now}
}

func (j *Jar) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(j.Name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Write sets the cookie to live until expiresAt.
func (j *Jar) Write(w http.ResponseWriter, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(j.now()).Seconds())
	if maxAge <= 0 {
		j.Expire(w)
		return
	}
	http.SetCookie(w, j.cookie(value, maxAge, expiresAt))
}

func (j *Jar) Expire(w http.ResponseWriter) {
	http.SetCookie(w, j.cookie("", -1, time.Unix(0, 0)))
}

func (j *Jar) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     j.Name,
		Value:    value,
		Path:     j.Path,
		Domain:   j.Domain,
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !j.Insecure,
		SameSite: http.SameSiteStrictMode,
	}
}

// IDCarrier keeps only a signed session id in the cookie, for stores that
// hold the snapshot server-side.
type IDCarrier struct {
	codec *Codec
	jar   *Jar
}

func NewIDCarrier(codec *Codec, jar *Jar) *IDCarrier {
	return &IDCarrier{codec: codec, jar: jar}
}

func (c *IDCarrier) ReadID(r *http.Request) (string, bool) {
	value, ok := c.jar.Read(r)
	if !ok {
		return "", false
	}
	claims, err := c.codec.Decode(value)
	if err != nil || claims.SessionID == "" {
		return "", false
	}
	return claims.SessionID, true
}

func (c *IDCarrier) WriteID(w http.ResponseWriter, id string, expiresAt time.Time) error {
	value, err := c.codec.Encode(Claims{SessionID: id}, expiresAt)
	if err != nil {
		return err
	}
	c.jar.Write(w, value, expiresAt)
	return nil
}

func (c *IDCarrier) Expire(w http.ResponseWriter) {
	c.jar.Expire(w)
}
