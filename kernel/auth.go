package kernel

import (
	"crypto/rand"
	"time"

	"github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"github.com/matthewhartstonge/argon2"
	"github.com/rs/zerolog/log"
)

type AdminIdentity struct {
	Username string
}

type adminLogin struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// SetupJWT builds the admin JWT middleware. Admins authenticate against
// ADMIN_USERNAME and the argon2 encoded ADMIN_PASSWORD_HASH.
func (art *AppRuntime) SetupJWT() error {
	if len(art.SecretKey) == 0 {
		log.Warn().Msg("SEC_JWT_SECRET_KEY is empty, generating a random key; admin tokens will not survive a restart")
		art.SecretKey = make([]byte, 32)
		if _, err := rand.Read(art.SecretKey); err != nil {
			return err
		}
	}

	var err error
	art.JWT, err = jwt.New(&jwt.GinJWTMiddleware{
		Realm:       art.Realm,
		Key:         art.SecretKey,
		IdentityKey: art.IdentityKey,
		Timeout:     time.Hour * 12,
		MaxRefresh:  time.Hour * 12,

		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if v, ok := data.(*AdminIdentity); ok {
				return jwt.MapClaims{art.IdentityKey: v.Username}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			username, _ := claims[art.IdentityKey].(string)
			return &AdminIdentity{Username: username}
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var login adminLogin
			if err := c.ShouldBind(&login); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			if login.Username != art.AdminUsername || art.AdminPasswordHash == "" {
				return nil, jwt.ErrFailedAuthentication
			}

			ok, err := argon2.VerifyEncoded([]byte(login.Password), []byte(art.AdminPasswordHash))
			if err != nil || !ok {
				log.Warn().Str("username", login.Username).Msg("admin login failed")
				return nil, jwt.ErrFailedAuthentication
			}
			return &AdminIdentity{Username: login.Username}, nil
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			v, ok := data.(*AdminIdentity)
			return ok && v.Username == art.AdminUsername
		},
	})
	return err
}
