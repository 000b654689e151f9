package tahan_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ambiyansyah-risyal/tahan"
)

func ExampleClient_Execute() {
	calls := 0
	transport := tahan.TransportFunc(func(ctx context.Context, req *tahan.Request) (*tahan.Response, error) {
		calls++
		return &tahan.Response{StatusCode: http.StatusOK, Body: []byte("hello")}, nil
	})

	client := tahan.New(tahan.WithTransport(transport))

	for i := 0; i < 2; i++ {
		resp, err := client.Execute(context.Background(), tahan.Get("https://api.example.com/greeting"))
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(string(resp.Body), resp.FromCache)
	}
	fmt.Println("transport calls:", calls)
	// Output:
	// hello false
	// hello true
	// transport calls: 1
}

func ExampleErrorType() {
	client := tahan.New(tahan.WithTransport(tahan.TransportFunc(func(ctx context.Context, req *tahan.Request) (*tahan.Response, error) {
		return &tahan.Response{StatusCode: http.StatusConflict}, nil
	})))

	_, err := client.Execute(context.Background(), tahan.Post("https://api.example.com/orders", []byte(`{}`), tahan.NotIdempotent))
	fmt.Println(tahan.ErrorType(err))
	// Output: HttpClientError
}
