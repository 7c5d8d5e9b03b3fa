package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type Customer struct {
	CustomerID  string `parquet:"customer_id"`
	CompanyName string `parquet:"company_name"`
	ContactName string `parquet:"contact_name"`
	City        string `parquet:"city"`
	Country     string `parquet:"country"`
}

type Product struct {
	ProductID    int64   `parquet:"product_id"`
	ProductName  string  `parquet:"product_name"`
	CategoryName string  `parquet:"category_name"`
	UnitPrice    float64 `parquet:"unit_price"`
	Discontinued int64   `parquet:"discontinued"`
}

type Order struct {
	OrderID     int64   `parquet:"order_id"`
	CustomerID  string  `parquet:"customer_id"`
	OrderDate   string  `parquet:"order_date"`
	ShipCountry string  `parquet:"ship_country"`
	Freight     float64 `parquet:"freight"`
}

type OrderDetail struct {
	OrderID   int64   `parquet:"order_id"`
	ProductID int64   `parquet:"product_id"`
	UnitPrice float64 `parquet:"unit_price"`
	Quantity  int64   `parquet:"quantity"`
	Discount  float64 `parquet:"discount"`
}

type Dataset struct {
	Customers    []Customer
	Products     []Product
	Orders       []Order
	OrderDetails []OrderDetail
}

type company struct {
	name    string
	contact string
	city    string
	country string
}

var companies = []company{
	{"Alfreds Futterkiste", "Maria Anders", "Berlin", "Germany"},
	{"Ana Trujillo Emparedados y helados", "Ana Trujillo", "México D.F.", "Mexico"},
	{"Around the Horn", "Thomas Hardy", "London", "UK"},
	{"Berglunds snabbköp", "Christina Berglund", "Luleå", "Sweden"},
	{"Blondesddsl père et fils", "Frédérique Citeaux", "Strasbourg", "France"},
	{"Bon app'", "Laurence Lebihan", "Marseille", "France"},
	{"Bottom-Dollar Markets", "Elizabeth Lincoln", "Tsawassen", "Canada"},
	{"Chop-suey Chinese", "Yang Wang", "Bern", "Switzerland"},
	{"Ernst Handel", "Roland Mendel", "Graz", "Austria"},
	{"Familia Arquibaldo", "Aria Cruz", "São Paulo", "Brazil"},
	{"Folk och fä HB", "Maria Larsson", "Bräcke", "Sweden"},
	{"Frankenversand", "Peter Franken", "München", "Germany"},
	{"Great Lakes Food Market", "Howard Snyder", "Eugene", "USA"},
	{"Hungry Owl All-Night Grocers", "Patricia McKenna", "Cork", "Ireland"},
	{"Island Trading", "Helen Bennett", "Cowes", "UK"},
	{"Königlich Essen", "Philip Cramer", "Brandenburg", "Germany"},
	{"La maison d'Asie", "Annette Roulet", "Toulouse", "France"},
	{"Lehmanns Marktstand", "Renate Messner", "Frankfurt a.M.", "Germany"},
	{"QUICK-Stop", "Horst Kloss", "Cunewalde", "Germany"},
	{"Queen Cozinha", "Lúcia Carvalho", "São Paulo", "Brazil"},
	{"Rattlesnake Canyon Grocery", "Paula Wilson", "Albuquerque", "USA"},
	{"Save-a-lot Markets", "Jose Pavarotti", "Boise", "USA"},
	{"Seven Seas Imports", "Hari Kumar", "London", "UK"},
	{"Simons bistro", "Jytte Petersen", "København", "Denmark"},
	{"Wartian Herkku", "Pirkko Koskitalo", "Oulu", "Finland"},
}

type catalogProduct struct {
	name     string
	category string
	price    float64
}

var catalogProducts = []catalogProduct{
	{"Chai", "Beverages", 18},
	{"Chang", "Beverages", 19},
	{"Aniseed Syrup", "Condiments", 10},
	{"Chef Anton's Cajun Seasoning", "Condiments", 22},
	{"Grandma's Boysenberry Spread", "Condiments", 25},
	{"Uncle Bob's Organic Dried Pears", "Produce", 30},
	{"Northwoods Cranberry Sauce", "Condiments", 40},
	{"Mishi Kobe Niku", "Meat/Poultry", 97},
	{"Ikura", "Seafood", 31},
	{"Queso Cabrales", "Dairy Products", 21},
	{"Queso Manchego La Pastora", "Dairy Products", 38},
	{"Tofu", "Produce", 23.25},
	{"Pavlova", "Confections", 17.45},
	{"Carnarvon Tigers", "Seafood", 62.5},
	{"Teatime Chocolate Biscuits", "Confections", 9.2},
	{"Sir Rodney's Marmalade", "Confections", 81},
	{"Gustaf's Knäckebröd", "Grains/Cereals", 21},
	{"Tunnbröd", "Grains/Cereals", 9},
	{"Guaraná Fantástica", "Beverages", 4.5},
	{"Gorgonzola Telino", "Dairy Products", 12.5},
	{"Côte de Blaye", "Beverages", 263.5},
	{"Thüringer Rostbratwurst", "Meat/Poultry", 123.79},
	{"Nord-Ost Matjeshering", "Seafood", 25.89},
	{"Raclette Courdavault", "Dairy Products", 55},
	{"Camembert Pierrot", "Dairy Products", 34},
	{"Tarte au sucre", "Confections", 49.3},
	{"Gnocchi di nonna Alice", "Grains/Cereals", 38},
	{"Wimmers gute Semmelknödel", "Grains/Cereals", 33.25},
	{"Rhönbräu Klosterbier", "Beverages", 7.75},
	{"Original Frankfurter grüne Soße", "Condiments", 13},
}

// Generator produces the same dataset for the same seed.
type Generator struct {
	rnd   *rand.Rand
	start time.Time
	days  int
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		days:  730,
	}
}

func (g *Generator) Generate(customers, products, orders int) Dataset {
	data := Dataset{
		Customers: make([]Customer, 0, customers),
		Products:  make([]Product, 0, products),
		Orders:    make([]Order, 0, orders),
	}
	for i := 0; i < customers; i++ {
		data.Customers = append(data.Customers, newCustomer(i))
	}
	for i := 0; i < products && i < len(catalogProducts); i++ {
		p := catalogProducts[i]
		discontinued := int64(0)
		if g.rnd.Intn(10) == 0 {
			discontinued = 1
		}
		data.Products = append(data.Products, Product{
			ProductID:    int64(i + 1),
			ProductName:  p.name,
			CategoryName: p.category,
			UnitPrice:    p.price,
			Discontinued: discontinued,
		})
	}

	for i := 0; i < orders; i++ {
		// Skew towards the first customers so rankings have clear leaders.
		customer := data.Customers[g.skewedIndex(len(data.Customers))]
		order := Order{
			OrderID:     int64(10248 + i),
			CustomerID:  customer.CustomerID,
			OrderDate:   g.start.AddDate(0, 0, g.rnd.Intn(g.days)).Format(time.DateOnly),
			ShipCountry: customer.Country,
			Freight:     round2(1 + g.rnd.Float64()*120),
		}
		data.Orders = append(data.Orders, order)

		lines := 1 + g.rnd.Intn(4)
		picked := map[int]struct{}{}
		for len(picked) < lines && len(picked) < len(data.Products) {
			index := g.rnd.Intn(len(data.Products))
			if _, dup := picked[index]; dup {
				continue
			}
			picked[index] = struct{}{}
			product := data.Products[index]
			data.OrderDetails = append(data.OrderDetails, OrderDetail{
				OrderID:   order.OrderID,
				ProductID: product.ProductID,
				UnitPrice: product.UnitPrice,
				Quantity:  int64(1 + g.rnd.Intn(60)),
				Discount:  pickDiscount(g.rnd),
			})
		}
	}
	return data
}

func (g *Generator) skewedIndex(n int) int {
	f := g.rnd.Float64()
	return int(f * f * float64(n))
}

func newCustomer(index int) Customer {
	base := companies[index%len(companies)]
	name := base.name
	if round := index / len(companies); round > 0 {
		name = fmt.Sprintf("%s %d", base.name, round+1)
	}
	return Customer{
		CustomerID:  customerID(name, index),
		CompanyName: name,
		ContactName: base.contact,
		City:        base.city,
		Country:     base.country,
	}
}

func customerID(name string, index int) string {
	letters := make([]rune, 0, 5)
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
		}
		if len(letters) == 3 {
			break
		}
	}
	return fmt.Sprintf("%s%02d", string(letters), index+1)
}

func pickDiscount(r *rand.Rand) float64 {
	return []float64{0, 0, 0, 0.05, 0.1, 0.15, 0.2, 0.25}[r.Intn(8)]
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
