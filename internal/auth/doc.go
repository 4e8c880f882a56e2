// Package auth authenticates gateway callers.
//
// Callers present an HS256 JWT whose subject is a participant in its
// "kind:id" form, for example "customer:5". HTTPAuthMiddleware verifies the
// token and stores the participant in the request context, where handlers
// read it with FromContext.
//
// Tokens are minted with JWTVerifier.Generate, which the CLI exposes as
// "coven-inbox token --as customer:5".
package auth
