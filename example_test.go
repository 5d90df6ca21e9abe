package goSession_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/principal/memory"
)

// Example shows engine construction, registration and a token rotation.
func Example() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := goSession.DefaultConfig()
	cfg.Token.AccessSecret = "example-access-secret-000000000001"
	cfg.Token.RenewalSecret = "example-renewal-secret-00000000001"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(memory.New()).
		Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	res, err := engine.Register(ctx, goSession.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     " Ada@Example.com ",
		Phone:     "555-123-4567",
		Password:  "Correct-horse-9",
	})
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Claims.Email, res.Claims.Phone)

	renewed, err := engine.Renew(ctx, res.Tokens.RenewalToken)
	if err != nil {
		panic(err)
	}
	_, err = engine.Renew(ctx, res.Tokens.RenewalToken)
	fmt.Println(goSession.KindOf(err))

	claims, err := engine.Authenticate(ctx, renewed.AccessToken)
	if err != nil {
		panic(err)
	}
	fmt.Println(claims.ID == res.Claims.ID)

	// Output:
	// ada@example.com 5551234567
	// unauthorized
	// true
}

// ExampleKindOf shows how a transport maps Engine errors.
func ExampleKindOf() {
	err := fmt.Errorf("update profile: %w", &goSession.ConflictError{Field: "email"})
	fmt.Println(goSession.KindOf(err))

	var conflict *goSession.ConflictError
	if errors.As(err, &conflict) {
		fmt.Println(conflict.Field)
	}

	// Output:
	// conflict
	// email
}
